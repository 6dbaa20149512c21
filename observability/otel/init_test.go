package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =empty,tenant=grid ")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "grid"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestBuildResourceCarriesEnvironment(t *testing.T) {
	res, err := buildResource(Config{ServiceName: "marketd", Environment: "staging"})
	require.NoError(t, err)
	var found bool
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "deployment.environment" {
			found = kv.Value.AsString() == "staging"
		}
	}
	require.True(t, found)
}
