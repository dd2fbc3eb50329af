package log

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestStatusEmoji(t *testing.T) {
	assert.Equal(t, "🟢", statusEmoji(200))
	assert.Equal(t, "🟡", statusEmoji(304))
	assert.Equal(t, "🟠", statusEmoji(429))
	assert.Equal(t, "🔴", statusEmoji(503))
}

func TestGetEmojiMap_ReturnsCopy(t *testing.T) {
	m := GetEmojiMap()
	assert.Equal(t, "✈️", m["irrops"])
	assert.Equal(t, "🔌", m["breaker"])

	m["irrops"] = "x"
	assert.Equal(t, "✈️", GetEmojiMap()["irrops"])
}

func TestEmojiConsoleEncoder_EncodeEntry(t *testing.T) {
	encoder := NewEmojiConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})

	tests := []struct {
		name   string
		level  zapcore.Level
		fields []zapcore.Field
		want   string
	}{
		{"type mapping", zapcore.InfoLevel, []zapcore.Field{zap.String("type", "irrops")}, "✈️ message"},
		{"status wins over type", zapcore.InfoLevel, []zapcore.Field{zap.String("type", "request"), zap.Int("status", 502)}, "🔴 message"},
		{"breaker opened", zapcore.WarnLevel, []zapcore.Field{zap.String("type", "breaker"), zap.String("to", "OPEN")}, "🔴 message"},
		{"breaker half open", zapcore.InfoLevel, []zapcore.Field{zap.String("type", "breaker"), zap.String("to", "HALF_OPEN")}, "🟡 message"},
		{"breaker without state", zapcore.InfoLevel, []zapcore.Field{zap.String("type", "breaker")}, "🔌 message"},
		{"unknown type falls back to level", zapcore.WarnLevel, []zapcore.Field{zap.String("type", "nope")}, "⚠️ message"},
		{"error level", zapcore.ErrorLevel, nil, "❌ message"},
		{"debug level", zapcore.DebugLevel, nil, "🐛 message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := encoder.EncodeEntry(zapcore.Entry{Level: tt.level, Message: "message"}, tt.fields)
			require.NoError(t, err)
			defer buf.Free()
			assert.True(t, strings.Contains(buf.String(), tt.want), buf.String())
		})
	}
}

func TestEmojiConsoleEncoder_Clone(t *testing.T) {
	encoder := NewEmojiConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg"})
	clone := encoder.Clone()
	_, ok := clone.(*EmojiConsoleEncoder)
	assert.True(t, ok)
}
