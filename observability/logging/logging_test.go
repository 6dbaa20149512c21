package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("marketd", "test", Options{Output: &buf, Level: slog.LevelDebug})
	t.Cleanup(func() { _ = closer.Close() })

	logger.Debug("tick processed", "tick", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "tick processed", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "marketd", line["service"])
	require.Equal(t, "test", line["env"])
	require.EqualValues(t, 7, line["tick"])
	require.Contains(t, line, "timestamp")
}

func TestSetupMirrorsToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("marketd", "", Options{Output: &buf, File: path, MaxSizeMB: 1})

	logger.Info("hello")
	logger.Debug("dropped")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, buf.String(), string(raw))
	require.Contains(t, string(raw), "hello")
	require.NotContains(t, string(raw), "dropped")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("jwtSecret", "s3cret").Value.String())
	require.Equal(t, "bond", MaskField("command", "bond").Value.String())
	require.Equal(t, "", MaskField("jwtSecret", "").Value.String())
	require.True(t, IsAllowlisted("RequestID"))
}
