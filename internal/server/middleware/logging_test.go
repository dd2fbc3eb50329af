package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	pkglog "Wayfarer/pkg/log"
)

func createTestLogger() (*pkglog.LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg", LevelKey: "level", EncodeLevel: zapcore.LowercaseLevelEncoder}),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)
	return pkglog.NewLogHelper(pkglog.NewKratosAdapter(zap.New(core))), buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestExtractHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, extractHTTPStatus(nil))
	assert.Equal(t, 400, extractHTTPStatus(errors.BadRequest("INVALID_REQUEST", "bad")))
	assert.Equal(t, 404, extractHTTPStatus(errors.NotFound("BREAKER_NOT_FOUND", "missing")))
	assert.Equal(t, 503, extractHTTPStatus(errors.ServiceUnavailable("SNAPSHOTS_UNAVAILABLE", "down")))
	assert.Equal(t, 500, extractHTTPStatus(stderrors.New("boom")))
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1:5555", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	assert.Equal(t, "203.0.113.7", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", extractClientIP(req))
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	helper, buf := createTestLogger()

	var seen string
	handler := Logging(helper)(func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = pkglog.GetRequestID(ctx)
		pkglog.SetRecordLocator(ctx, "ABC123")
		return "ok", nil
	})

	reply, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "unknown", seen)

	entry := lastLine(t, buf)
	assert.Equal(t, seen, entry["request_id"])
	assert.Equal(t, "ABC123", entry["record_locator"])
	assert.EqualValues(t, 200, entry["status"])
}

func TestLogging_HTTPTransport(t *testing.T) {
	helper, buf := createTestLogger()

	srv := http.NewServer(http.Middleware(Logging(helper)))
	srv.Route("/").POST("/v1/irrops/process", func(ctx http.Context) error {
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, errors.BadRequest("INVALID_REQUEST", "missing record locator")
		})
		_, err := h(ctx, nil)
		return err
	})

	req := httptest.NewRequest("POST", "/v1/irrops/process?debug=1", nil)
	req.Header.Set(RequestIDHeader, "caller-id-1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "caller-id-1", rec.Header().Get(RequestIDHeader))

	entry := lastLine(t, buf)
	assert.Equal(t, "caller-id-1", entry["request_id"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/v1/irrops/process?debug=1", entry["path"])
	assert.EqualValues(t, 400, entry["status"])
}
