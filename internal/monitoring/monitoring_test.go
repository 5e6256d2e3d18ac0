package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestAnalysisLoggerNeverLogsText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.AnalysisLogger(t.Context(), "remote", 120, OutcomeSuccess, 25, 2, 40*time.Millisecond)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Analysis Completed", entry["msg"])
	assert.Equal(t, float64(120), entry["text_length"])
	assert.Equal(t, "remote", entry["engine"])
	assert.Contains(t, entry, "timestamp")
	assert.NotContains(t, entry, "text")
}

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordAnalysis(OutcomeSuccess, 100)
	m.RecordAnalysis(OutcomeValidation, 10)
	m.RecordAnalysis(OutcomeSuccess, 200)
	m.RecordEngineAttempt("remote", "ok", time.Second)
	m.RecordRateLimitBlock("memory")
	m.SetCircuitBreakerState("remote", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnalysisTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisTotal.WithLabelValues(OutcomeValidation)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineAttempts.WithLabelValues("remote", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitBlocks.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("remote")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordAnalysis(OutcomeSuccess, 1) })
}

func TestMonitoringMiddleware(t *testing.T) {
	m := NewMetrics()
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	router := gin.New()
	router.Use(RequestIDMiddleware(), MonitoringMiddleware(m, logger))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/ping", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
	assert.Contains(t, buf.String(), `"msg":"HTTP Request"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "veritas_http_requests_total"))
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	t.Run("keeps valid incoming id", func(t *testing.T) {
		id := "3f1c4c3e-8c7a-4a36-9c6e-4f1f6f8e2b11"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, id)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, id, w.Body.String())
		assert.Equal(t, id, w.Header().Get(RequestIDHeader))
	})

	t.Run("replaces garbage id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.NotEqual(t, "<script>", w.Body.String())
		assert.Len(t, w.Body.String(), 36)
	})
}

func TestSuspiciousUserAgent(t *testing.T) {
	assert.True(t, containsSuspiciousUserAgent("sqlmap/1.7"))
	assert.True(t, containsSuspiciousUserAgent("Mozilla Nikto"))
	assert.False(t, containsSuspiciousUserAgent("Mozilla/5.0"))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(t.Context(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(t.Context()))
	assert.NotNil(t, Tracer())
}
