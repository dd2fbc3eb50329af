package log

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAdapter() (log.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewKratosAdapter(zap.New(core)), logs
}

func TestKratosAdapter_EmptyKeyvals(t *testing.T) {
	logger, logs := newObservedAdapter()
	require.NoError(t, logger.Log(log.LevelInfo))
	assert.Zero(t, logs.Len())
}

func TestKratosAdapter_MessageKey(t *testing.T) {
	logger, logs := newObservedAdapter()
	require.NoError(t, logger.Log(log.LevelInfo, "msg", "irrops run started", "record_locator", "ABC123"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "irrops run started", entry.Message)
	assert.Equal(t, "ABC123", entry.ContextMap()["record_locator"])
	assert.NotContains(t, entry.ContextMap(), "msg")
}

func TestKratosAdapter_LevelMapping(t *testing.T) {
	tests := []struct {
		level log.Level
		want  zapcore.Level
	}{
		{log.LevelDebug, zapcore.DebugLevel},
		{log.LevelInfo, zapcore.InfoLevel},
		{log.LevelWarn, zapcore.WarnLevel},
		{log.LevelError, zapcore.ErrorLevel},
		{log.Level(42), zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			logger, logs := newObservedAdapter()
			require.NoError(t, logger.Log(tt.level, "msg", "x"))
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.want, logs.All()[0].Level)
		})
	}
}

func TestKratosAdapter_ValueTypes(t *testing.T) {
	logger, logs := newObservedAdapter()
	require.NoError(t, logger.Log(log.LevelInfo,
		"msg", "fetch failed",
		"error", errors.New("connection refused"),
		"attempt", 3,
		"retryable", true,
	))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "connection refused", fields["error"])
	assert.EqualValues(t, 3, fields["attempt"])
	assert.Equal(t, true, fields["retryable"])
}

func TestKratosAdapter_Sanitizes(t *testing.T) {
	logger, logs := newObservedAdapter()
	require.NoError(t, logger.Log(log.LevelInfo,
		"msg", "flight search configured",
		"api_key", "sk-live-1234567890abcdef",
		"passenger_name", "Ada Lovelace",
		"origin", "JFK",
	))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sk-l****************cdef", fields["api_key"])
	assert.Equal(t, "A*** L***", fields["passenger_name"])
	assert.Equal(t, "JFK", fields["origin"])
}

func TestKratosAdapter_OddKeyvals(t *testing.T) {
	logger, logs := newObservedAdapter()
	require.NoError(t, logger.Log(log.LevelInfo, "msg", "odd", "dangling"))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "KEYVALS_UNPAIRED", fields["dangling"])
}

func TestKratosAdapter_WithRequestIDValuer(t *testing.T) {
	base, logs := newObservedAdapter()
	logger := log.With(base, "request_id", RequestID())
	helper := log.NewHelper(logger)

	ctx := WithRequestContext(context.Background(), "req-99")
	helper.WithContext(ctx).Infow("msg", "handled")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-99", logs.All()[0].ContextMap()["request_id"])
}
