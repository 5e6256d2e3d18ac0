package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// PoolConfig sizes the pooled transport used for detection engine calls.
type PoolConfig struct {
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
}

// DefaultPoolConfig returns the pool settings used by the server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:     20,
		MaxActive:   50,
		IdleTimeout: 90 * time.Second,
	}
}

// ConnectionPool issues HTTP requests over a shared keep-alive transport,
// caps concurrent in-flight requests, and guards every call with a circuit breaker.
type ConnectionPool struct {
	config         PoolConfig
	client         *http.Client
	transport      *http.Transport
	circuitBreaker *CircuitBreaker
	slots          chan struct{}
	inFlight       atomic.Int64
	total          atomic.Int64
}

// NewConnectionPool creates a new connection pool with circuit breaker
func NewConnectionPool(config PoolConfig, cb *CircuitBreaker) *ConnectionPool {
	defaults := DefaultPoolConfig()
	if config.MaxIdle <= 0 {
		config.MaxIdle = defaults.MaxIdle
	}
	if config.MaxActive <= 0 {
		config.MaxActive = defaults.MaxActive
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if cb == nil {
		cb = NewCircuitBreaker("http", DefaultCircuitBreakerConfig())
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdle,
		MaxConnsPerHost:       config.MaxActive,
		MaxIdleConnsPerHost:   max(config.MaxIdle/2, 1),
		IdleConnTimeout:       config.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &ConnectionPool{
		config:    config,
		transport: transport,
		// No client timeout: callers bound each request with their context.
		client:         &http.Client{Transport: transport},
		circuitBreaker: cb,
		slots:          make(chan struct{}, config.MaxActive),
	}
}

// CircuitBreaker returns the breaker guarding this pool.
func (cp *ConnectionPool) CircuitBreaker() *CircuitBreaker {
	return cp.circuitBreaker
}

// UpstreamStatusError marks a 5xx answer so the breaker counts it as a failure.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

// DoRequest executes an HTTP request with circuit breaker and connection pooling.
// A nil body sends no payload. A 5xx response is returned to the caller
// but recorded as a breaker failure.
func (cp *ConnectionPool) DoRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	select {
	case cp.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for connection slot: %w", ctx.Err())
	}
	defer func() { <-cp.slots }()

	cp.inFlight.Add(1)
	defer cp.inFlight.Add(-1)
	cp.total.Add(1)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	// A request that cannot be built never reaches the breaker.
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	var resp *http.Response
	var reqErr error

	err = cp.circuitBreaker.Call(func() error {
		start := time.Now()
		resp, reqErr = cp.client.Do(req)
		duration := time.Since(start)

		if reqErr != nil {
			if ctx.Err() != nil && errors.Is(reqErr, context.Canceled) {
				// The caller went away; not the engine's fault.
				return Uncounted(reqErr)
			}
			slog.Warn("Upstream request failed", "url", url, "error", reqErr, "duration_ms", duration.Milliseconds())
			return reqErr
		}

		slog.Debug("Upstream request completed", "url", url, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

		if resp.StatusCode >= http.StatusInternalServerError {
			return &UpstreamStatusError{StatusCode: resp.StatusCode}
		}
		return nil
	})

	if reqErr != nil {
		return nil, reqErr
	}
	if errors.Is(err, ErrCircuitOpen) {
		return nil, err
	}

	return resp, nil
}

// PoolStats is the pool section of the health endpoint.
type PoolStats struct {
	InFlight       int64               `json:"in_flight"`
	TotalRequests  int64               `json:"total_requests"`
	MaxActive      int                 `json:"max_active"`
	MaxIdle        int                 `json:"max_idle"`
	IdleTimeoutMS  int64               `json:"idle_timeout_ms"`
	CircuitBreaker CircuitBreakerStats `json:"circuit_breaker"`
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() PoolStats {
	return PoolStats{
		InFlight:       cp.inFlight.Load(),
		TotalRequests:  cp.total.Load(),
		MaxActive:      cp.config.MaxActive,
		MaxIdle:        cp.config.MaxIdle,
		IdleTimeoutMS:  cp.config.IdleTimeout.Milliseconds(),
		CircuitBreaker: cp.circuitBreaker.Stats(),
	}
}

// Close drops idle keep-alive connections.
func (cp *ConnectionPool) Close() error {
	cp.transport.CloseIdleConnections()
	slog.Info("Connection pool closed")
	return nil
}
