// Package middleware holds the Kratos server middleware of the HTTP API.
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"

	pkglog "Wayfarer/pkg/log"
)

// RequestIDHeader carries the request id in and out of the service.
const RequestIDHeader = "X-Request-ID"

// Logging 返回一个记录 HTTP 请求日志的中间件
// 生成 Request ID、注入 Request Context、检测慢请求
//
// 日志输出示例:
//
//	🟢 POST /v1/irrops/process - 200 (542ms) | RequestID: 01HZX3J8K6W3B8Q1V5R9T2M4NC
//	🐌 [01HZX3J8K6W3B8Q1V5R9T2M4NC] Slow request detected | POST /v1/irrops/process | 1380ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var method, path, ip, userAgent, requestID string

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Kind().String()
				path = tr.Operation()
				requestID = tr.RequestHeader().Get(RequestIDHeader)

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
				}

				if requestID == "" {
					requestID = pkglog.GenerateRequestID()
				}
				tr.ReplyHeader().Set(RequestIDHeader, requestID)
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}

			ctx = pkglog.WithRequestContext(ctx, requestID)

			reply, err := handler(ctx, req)

			logger.RequestWithContext(ctx, method, path, extractHTTPStatus(err), time.Since(startTime).Milliseconds(),
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP 从请求中提取客户端真实 IP
// 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	return req.RemoteAddr
}

// extractHTTPStatus 从 Kratos 错误中提取 HTTP 状态码
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
