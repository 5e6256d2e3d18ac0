package middleware

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Media types to compress
	ExcludedPrefixes []string // Paths that compress on their own, e.g. /metrics
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/plain",
		},
		ExcludedPrefixes: []string{"/metrics", "/swagger/"},
	}
}

// CompressionMiddleware gzips large JSON and plain-text responses, which
// covers analysis reports and their text downloads.
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	if config.MinSize <= 0 {
		config.MinSize = DefaultCompressionConfig().MinSize
	}
	if config.CompressionLevel == 0 {
		config.CompressionLevel = gzip.DefaultCompression
	}

	cm := &CompressionMiddleware{
		config: config,
		stats:  &CompressionStats{},
	}
	cm.pool.New = func() any {
		gz, err := gzip.NewWriterLevel(nil, cm.config.CompressionLevel)
		if err != nil {
			gz = gzip.NewWriter(nil)
		}
		return gz
	}
	return cm
}

// Handler returns the gin middleware.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cm.clientAcceptsGzip(c.Request) || cm.excluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		original := c.Writer
		gw := &gzipResponseWriter{ResponseWriter: original, cm: cm}
		c.Writer = gw

		c.Next()

		gw.finish()
		c.Writer = original
		cm.stats.RecordRequest(int64(gw.inputBytes), int64(original.Size()), gw.gz != nil)
	}
}

func (cm *CompressionMiddleware) clientAcceptsGzip(r *http.Request) bool {
	if r.Method == http.MethodHead {
		return false
	}
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(coding, "gzip") {
			return true
		}
	}
	return false
}

func (cm *CompressionMiddleware) excluded(path string) bool {
	for _, prefix := range cm.config.ExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, ct := range cm.config.ContentTypes {
		if mediaType == ct {
			return true
		}
	}
	return false
}

// gzipResponseWriter buffers the first MinSize bytes so small responses go
// out untouched. The status line is held back until the decision is made.
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm *CompressionMiddleware

	buf        bytes.Buffer
	gz         *gzip.Writer
	status     int
	decided    bool
	inputBytes int
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if !w.decided && code > 0 {
		w.status = code
	}
}

func (w *gzipResponseWriter) WriteHeaderNow() {}

func (w *gzipResponseWriter) Status() int {
	if !w.decided && w.status != 0 {
		return w.status
	}
	return w.ResponseWriter.Status()
}

func (w *gzipResponseWriter) Written() bool {
	return w.buf.Len() > 0 || w.ResponseWriter.Written()
}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	w.inputBytes += len(data)

	switch {
	case w.gz != nil:
		return w.gz.Write(data)
	case w.decided:
		return w.ResponseWriter.Write(data)
	}

	w.buf.Write(data)
	if w.buf.Len() >= w.cm.config.MinSize {
		if err := w.decide(true); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipResponseWriter) Flush() {
	if !w.decided {
		_ = w.decide(w.buf.Len() >= w.cm.config.MinSize)
	}
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

// decide commits the headers and drains the buffer, compressing when large
// is set and the response is eligible.
func (w *gzipResponseWriter) decide(large bool) error {
	w.decided = true

	header := w.Header()
	if large && header.Get("Content-Encoding") == "" && w.cm.shouldCompress(header.Get("Content-Type")) {
		header.Set("Content-Encoding", "gzip")
		header.Add("Vary", "Accept-Encoding")
		header.Del("Content-Length")

		w.gz = w.cm.pool.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
	}

	if w.status != 0 {
		w.ResponseWriter.WriteHeader(w.status)
	}
	w.ResponseWriter.WriteHeaderNow()

	if w.buf.Len() == 0 {
		return nil
	}
	var err error
	if w.gz != nil {
		_, err = w.gz.Write(w.buf.Bytes())
	} else {
		_, err = w.ResponseWriter.Write(w.buf.Bytes())
	}
	w.buf.Reset()
	return err
}

func (w *gzipResponseWriter) finish() {
	if !w.decided {
		if w.status == 0 && w.buf.Len() == 0 {
			return
		}
		_ = w.decide(false)
	}
	if w.gz != nil {
		_ = w.gz.Close()
		w.cm.pool.Put(w.gz)
	}
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	mutex              sync.Mutex
	totalRequests      int64
	compressedRequests int64
	inputBytes         int64
	outputBytes        int64
}

// CompressionSnapshot is a copy of the counters for reporting.
type CompressionSnapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	CompressedRequests int64   `json:"compressed_requests"`
	InputBytes         int64   `json:"input_bytes"`
	OutputBytes        int64   `json:"output_bytes"`
	Ratio              float64 `json:"ratio"`
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(inputSize, outputSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.totalRequests++
	if compressed {
		cs.compressedRequests++
		cs.inputBytes += inputSize
		cs.outputBytes += outputSize
	}
}

// Snapshot returns the current counters.
func (cs *CompressionStats) Snapshot() CompressionSnapshot {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	snap := CompressionSnapshot{
		TotalRequests:      cs.totalRequests,
		CompressedRequests: cs.compressedRequests,
		InputBytes:         cs.inputBytes,
		OutputBytes:        cs.outputBytes,
	}
	if cs.inputBytes > 0 {
		snap.Ratio = float64(cs.outputBytes) / float64(cs.inputBytes)
	}
	return snap
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() CompressionSnapshot {
	return cm.stats.Snapshot()
}
