package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("overdue reconciliation completed", "updated", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "overdue reconciliation completed", line["msg"])
	assert.EqualValues(t, 3, line["updated"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "text").Debug("sweep scheduled")
	assert.Contains(t, buf.String(), "msg=\"sweep scheduled\"")
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "loandesk")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
