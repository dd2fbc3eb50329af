package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// emojiMap 定义日志类型到表情符号的映射
// 通过在日志调用时添加 "type" 字段，自动为日志添加对应的表情符号
var emojiMap = map[string]string{
	"request":      "🌐",
	"fetch":        "🛰️",
	"breaker":      "🔌",
	"rate_limit":   "🚦",
	"irrops":       "✈️",
	"cache":        "📦",
	"database":     "💾",
	"audit":        "📋",
	"security":     "🔒",
	"scheduler":    "🎯",
	"startup":      "🚀",
	"success":      "✅",
	"slow_request": "🐌", // 慢请求警告
}

// breakerEmoji 按熔断器目标状态选择表情符号
var breakerEmoji = map[string]string{
	"OPEN":      "🔴",
	"HALF_OPEN": "🟡",
	"CLOSED":    "🟢",
}

// statusEmoji 根据 HTTP 状态码返回表情符号
func statusEmoji(status int) string {
	if status >= 500 {
		return "🔴"
	} else if status >= 400 {
		return "🟠"
	} else if status >= 300 {
		return "🟡"
	}
	return "🟢"
}

// EmojiConsoleEncoder 扩展 ConsoleEncoder，自动添加表情符号
type EmojiConsoleEncoder struct {
	zapcore.Encoder
	config zapcore.EncoderConfig
}

// NewEmojiConsoleEncoder 创建带表情符号的控制台编码器
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
		config:  cfg,
	}
}

// EncodeEntry 编码日志条目，自动添加表情符号
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var logType, to string
	var status int64

	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "to" && field.Type == zapcore.StringType:
			to = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	// 优先级：HTTP status > 熔断器目标状态 > type 映射 > 日志级别
	emoji := ""
	switch {
	case status > 0:
		emoji = statusEmoji(int(status))
	case logType == "breaker" && breakerEmoji[to] != "":
		emoji = breakerEmoji[to]
	case logType != "":
		emoji = emojiMap[logType]
	}

	if emoji == "" {
		switch entry.Level {
		case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			emoji = "❌"
		case zapcore.WarnLevel:
			emoji = "⚠️"
		case zapcore.InfoLevel:
			emoji = "ℹ️"
		case zapcore.DebugLevel:
			emoji = "🐛"
		}
	}

	if emoji != "" {
		entry.Message = emoji + " " + entry.Message
	}

	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone 克隆编码器（Zap 内部使用）
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: enc.Encoder.Clone(),
		config:  enc.config,
	}
}

// GetEmojiMap 获取当前的表情符号映射（返回副本）
func GetEmojiMap() map[string]string {
	result := make(map[string]string, len(emojiMap))
	for k, v := range emojiMap {
		result[k] = v
	}
	return result
}
