package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
)

// maxResponseBytes caps how much of an engine response is read.
const maxResponseBytes = 1 << 20

// EngineHTTPError is a non-2xx answer from a detection engine.
type EngineHTTPError struct {
	Engine     string
	StatusCode int
	Body       string
}

func (e *EngineHTTPError) Error() string {
	return fmt.Sprintf("%s engine responded %d: %s", e.Engine, e.StatusCode, e.Body)
}

// Transient reports whether another attempt could succeed.
func (e *EngineHTTPError) Transient() bool {
	return resilience.IsRetryableHTTPStatus(e.StatusCode)
}

// RemoteDetector posts the text to an HTTP detection engine that speaks the
// report JSON directly.
type RemoteDetector struct {
	url   string
	token string
	pool  *resilience.ConnectionPool
}

// NewRemoteDetector creates a detector for the engine at url. token, when
// set, is sent as a bearer token.
func NewRemoteDetector(url, token string, pool *resilience.ConnectionPool) *RemoteDetector {
	return &RemoteDetector{
		url:   url,
		token: token,
		pool:  pool,
	}
}

// Name identifies the engine in logs and metrics.
func (d *RemoteDetector) Name() string {
	return "remote"
}

// Detect sends req and decodes the engine's report. The report is not
// range-checked here.
func (d *RemoteDetector) Detect(ctx context.Context, req analysis.DetectionRequest) (*analysis.Report, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detection request: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if d.token != "" {
		headers["Authorization"] = "Bearer " + d.token
	}

	body, err := doJSON(ctx, d.pool, d.Name(), d.url, payload, headers)
	if err != nil {
		return nil, err
	}

	return analysis.ParseReport(body)
}

// doJSON performs a POST through the pool and returns the body of a 2xx answer.
func doJSON(ctx context.Context, pool *resilience.ConnectionPool, engine, url string, payload []byte, headers map[string]string) ([]byte, error) {
	resp, err := pool.DoRequest(ctx, http.MethodPost, url, payload, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s engine: %w", engine, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s engine response: %w", engine, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EngineHTTPError{
			Engine:     engine,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), 256),
		}
	}

	return body, nil
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
