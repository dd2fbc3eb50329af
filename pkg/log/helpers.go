package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// SlowRequestThresholdMs 慢请求阈值（毫秒）
const SlowRequestThresholdMs int64 = 1000

// LogHelper 扩展 Kratos log.Helper，提供便捷的日志方法
// 通过在日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "startup")
	h.Infow(allKvs...)
}

// Scheduler 记录调度器相关日志（表情符号: 🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "scheduler")
	h.Infow(allKvs...)
}

// Breaker 记录熔断器状态变化（表情符号按目标状态）
func (h *LogHelper) Breaker(target, from, to string, kvs ...interface{}) {
	msg := fmt.Sprintf("circuit breaker %s: %s -> %s", target, from, to)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"target", target,
		"from", from,
		"to", to,
		"type", "breaker",
	)
	if to == "OPEN" {
		h.Warnw(allKvs...)
		return
	}
	h.Infow(allKvs...)
}

// SlowRequest 记录慢请求警告（表情符号: 🐌）
func (h *LogHelper) SlowRequest(ctx context.Context, method, path string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, path, duration, threshold)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"record_locator", reqCtx.RecordLocator,
		"method", method,
		"path", path,
		"duration_ms", duration,
		"threshold_ms", threshold,
		"type", "slow_request",
	)
	h.Warnw(allKvs...)
}

// RequestWithContext 记录带 Context 的 HTTP 请求日志
// 自动从 Context 提取 Request ID 并检测慢请求
func (h *LogHelper) RequestWithContext(ctx context.Context, method, path string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s",
		method, path, status, durationMs, reqCtx.RequestID)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"request_id", reqCtx.RequestID,
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", durationMs,
	)
	if reqCtx.RecordLocator != "" {
		allKvs = append(allKvs, "record_locator", reqCtx.RecordLocator)
	}

	if status >= 500 {
		h.Errorw(allKvs...)
	} else {
		h.Infow(allKvs...)
	}

	if durationMs > SlowRequestThresholdMs {
		h.SlowRequest(ctx, method, path, durationMs, SlowRequestThresholdMs)
	}
}
