package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	caller string
	auth   string
	body   map[string]interface{}
}

func newFakeAPI(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.caller = r.Header.Get(callerHeader)
		rec.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestCommandBuildsTypedBody(t *testing.T) {
	srv, rec := newFakeAPI(t, http.StatusOK, `{"command":"register_resource","result":{"index":1}}`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"--api", srv.URL, "--caller=0x1001", "cmd", "register-resource",
		"peerId=peer-1", "cpu=2", "memory=4", "unitPrice=1_000", "duration=100"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, http.MethodPost, rec.method)
	require.Equal(t, "/v1/commands/register_resource", rec.path)
	require.Equal(t, "0x1001", rec.caller)
	require.Equal(t, "peer-1", rec.body["peerId"])
	require.Equal(t, float64(2), rec.body["cpu"])
	require.Equal(t, "1000", rec.body["unitPrice"])
	require.Contains(t, stdout.String(), `"index": 1`)
}

func TestCommandRejectsBadArguments(t *testing.T) {
	cases := [][]string{
		{"cmd", "bond"},
		{"cmd", "bond", "amount=ten"},
		{"cmd", "bond", "amount=1", "color=red"},
		{"cmd", "heartbeat", "agreementIndex"},
		{"cmd", "mint", "amount=1"},
		{"--bogus", "x", "get", "tick"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 1, run(args, &stdout, &stderr), args)
		require.NotEmpty(t, stderr.String(), args)
	}
}

func TestAdminEnqueueRewardSendsDataset(t *testing.T) {
	srv, rec := newFakeAPI(t, http.StatusOK, `{"command":"enqueue_reward","result":{"id":1}}`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"--api", srv.URL, "--token", "jwt", "admin", "enqueue_reward",
		"variant=gateway", "payout=900", "dataset=0x1001:2,0x2002:1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, "/v1/admin/enqueue_reward", rec.path)
	require.Equal(t, "Bearer jwt", rec.auth)
	dataset, ok := rec.body["dataset"].([]interface{})
	require.True(t, ok)
	require.Len(t, dataset, 2)
	first := dataset[0].(map[string]interface{})
	require.Equal(t, "0x1001", first["account"])
	require.Equal(t, float64(2), first["weight"])
}

func TestQueryReportsAPIError(t *testing.T) {
	srv, rec := newFakeAPI(t, http.StatusNotFound, `{"error":{"kind":"validation","message":"resource not found"}}`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"--api", srv.URL, "get", "/resources/7"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Equal(t, http.MethodGet, rec.method)
	require.Equal(t, "/v1/resources/7", rec.path)
	require.Contains(t, stderr.String(), "404 validation: resource not found")
}

func TestUsageListsEveryCommand(t *testing.T) {
	text := usage()
	for name := range commandFields {
		require.Contains(t, text, name)
	}
	for name := range adminFields {
		require.Contains(t, text, name)
	}
}
