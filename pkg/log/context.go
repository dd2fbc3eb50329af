package log

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/oklog/ulid/v2"
)

// contextKey 是用于存储 RequestContext 的私有 key 类型
type contextKey string

const requestContextKey contextKey = "wayfarer_request_context"

// RequestContext 存储请求追踪信息
type RequestContext struct {
	RequestID     string    // ULID, or the caller's X-Request-ID
	RecordLocator string    // PNR being processed, set by the irrops handler
	StartTime     time.Time // 请求开始时间
}

// GenerateRequestID returns a new lexicographically sortable request id.
func GenerateRequestID() string {
	return ulid.Make().String()
}

// WithRequestContext 将 RequestContext 注入到 Context 中
func WithRequestContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		StartTime: time.Now(),
	})
}

// GetRequestContext 从 Context 中提取 RequestContext
// 如果不存在，返回一个默认的空 RequestContext
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID 从 Context 中提取 Request ID
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// SetRecordLocator attaches the PNR record locator to the request for later log lines.
func SetRecordLocator(ctx context.Context, recordLocator string) {
	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		reqCtx.RecordLocator = recordLocator
	}
}

// GetElapsedTime 获取请求已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}

// RequestID is a kratos log.Valuer that resolves the request id of the
// context passed to Helper.WithContext. Outside a request it yields "".
func RequestID() log.Valuer {
	return func(ctx context.Context) interface{} {
		if ctx == nil {
			return ""
		}
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx.RequestID
		}
		return ""
	}
}
