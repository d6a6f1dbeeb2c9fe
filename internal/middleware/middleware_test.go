package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/annel0/starfleet/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, console *bytes.Buffer) (*gin.Engine, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logging.NewLoggerWithOptions("api", logging.Options{
		Console:      console,
		ConsoleLevel: logging.DEBUG,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	pm := NewPrometheusMiddleware("test", reg)

	r := gin.New()
	r.Use(NewRequestLogger(log).Handler(), pm.Handler())
	pm.RegisterMetricsEndpoint(r, reg)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(TraceIDKey)) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r, reg
}

func TestRequestLogger(t *testing.T) {
	var console bytes.Buffer
	r, _ := newRouter(t, &console)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	require.Equal(t, http.StatusOK, w.Code)
	traceID := w.Body.String()
	assert.NotEmpty(t, traceID)
	assert.Equal(t, traceID, w.Header().Get("X-Trace-Id"))
	assert.Contains(t, console.String(), "[HTTP] ▶ GET /ok")
	assert.Contains(t, console.String(), "[HTTP] ◀ GET /ok 200")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Contains(t, console.String(), "[WARN] [api] [HTTP] ◀ GET /fail 500")
}

func TestPrometheusMiddleware(t *testing.T) {
	var console bytes.Buffer
	r, reg := newRouter(t, &console)

	for _, path := range []string{"/ok", "/ok", "/fail", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP test_http_request_errors_total Запросы, завершившиеся ошибкой (4xx/5xx).
# TYPE test_http_request_errors_total counter
test_http_request_errors_total{method="GET",path="/fail",status="500"} 1
test_http_request_errors_total{method="GET",path="unmatched",status="404"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_http_request_errors_total"))
	n, err := testutil.GatherAndCount(reg, "test_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_inflight")
}
