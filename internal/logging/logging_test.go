package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	logger := setup(&buf, "flashsettle", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("escrow opened", "amount", "100")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "escrow opened", entry["message"])
	assert.Equal(t, "INFO", entry["severity"])
	assert.Equal(t, "flashsettle", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "100", entry["amount"])
	assert.Contains(t, entry, "timestamp")

	buf.Reset()
	log.Printf("legacy %d", 1)
	assert.Contains(t, buf.String(), `"message":"legacy 1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
