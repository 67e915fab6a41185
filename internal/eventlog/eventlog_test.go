package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiho/agentloop/internal/apperr"
)

func TestEvent_WritesJSONLineWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.Event("tool_exec", map[string]any{"tool": "list_dir"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "tool_exec", line["event"])
	require.Equal(t, "list_dir", line["tool"])
	require.Equal(t, "info", line["level"])
	require.Contains(t, line, "ts")
}

func TestError_RecordsClassifiedKind(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	wrapped := apperr.New(apperr.KindPolicy, errors.New("write path not allowed"))
	logger.Error("tool_result", wrapped, map[string]any{"tool": "write_file"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "tool_result", line["event"])
	require.Equal(t, string(apperr.KindPolicy), line["errorClass"])
	require.Equal(t, "write_file", line["tool"])
	require.Equal(t, "error", line["level"])
}

func TestDebug_WritesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.Debug("raw_request", map[string]any{"bytes": 128})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "debug", line["level"])
	require.Equal(t, float64(128), line["bytes"])
}

func TestLogger_NilReceiverIsSafe(t *testing.T) {
	var logger *Logger
	require.NotPanics(t, func() {
		logger.Event("noop", nil)
		logger.Error("noop", errors.New("x"), nil)
		logger.Debug("noop", nil)
	})
}
