package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompressedRouter(cm *CompressionMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(cm.Handler())
	r.GET("/large", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("Potential Matches:\n", 200))
	})
	r.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	r.GET("/binary", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", make([]byte, 4096))
	})
	r.GET("/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", 4096))
	})
	return r
}

func get(r http.Handler, path string, acceptGzip bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if acceptGzip {
		req.Header.Set("Accept-Encoding", "br, gzip;q=0.9")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCompressionLargeTextIsGzipped(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newCompressedRouter(cm)

	w := get(r, "/large", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("Potential Matches:\n", 200), string(body))

	stats := cm.GetStats()
	assert.Equal(t, int64(1), stats.CompressedRequests)
	assert.Less(t, stats.OutputBytes, stats.InputBytes)
}

func TestCompressionSkips(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newCompressedRouter(cm)

	tests := []struct {
		name       string
		path       string
		acceptGzip bool
		wantStatus int
	}{
		{name: "client without gzip", path: "/large", wantStatus: http.StatusOK},
		{name: "small body", path: "/small", acceptGzip: true, wantStatus: http.StatusCreated},
		{name: "binary body", path: "/binary", acceptGzip: true, wantStatus: http.StatusOK},
		{name: "no body", path: "/empty", acceptGzip: true, wantStatus: http.StatusNoContent},
		{name: "excluded path", path: "/metrics", acceptGzip: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.path, tt.acceptGzip)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, w.Header().Get("Content-Encoding"))
		})
	}

	assert.Equal(t, int64(0), cm.GetStats().CompressedRequests)
}

func TestCompressionSmallBodyKeepsContent(t *testing.T) {
	r := newCompressedRouter(NewCompressionMiddleware(DefaultCompressionConfig()))

	w := get(r, "/small", true)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}
