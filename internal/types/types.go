package types

import (
	"time"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/errors"
	"github.com/ZanzyTHEbar/veritas/internal/middleware"
	"github.com/ZanzyTHEbar/veritas/internal/ratelimit"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
)

// AnalyzeRequest is the body of POST /api/analyze and POST /api/report. A
// missing text field reads as empty and is rejected as too short.
type AnalyzeRequest struct {
	Text string `json:"text" example:"Paste at least fifty characters of text to check for plagiarism here."`
}

// ContractErrorResponse is returned by POST /api/report/render when the
// submitted report breaks the detection contract.
type ContractErrorResponse struct {
	errors.ErrorResponse
	Violations []analysis.Violation `json:"violations"`
}

// EngineHealth describes the detection engine as seen from this process.
type EngineHealth struct {
	Name      string                   `json:"name" example:"remote"`
	Available bool                     `json:"available"`
	Health    resilience.ServiceHealth `json:"health"`
	Pool      resilience.PoolStats     `json:"pool"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                         `json:"status" example:"ok"`
	Version     string                         `json:"version" example:"1.0.0"`
	Uptime      string                         `json:"uptime" example:"1h2m3s"`
	Timestamp   time.Time                      `json:"timestamp"`
	Engine      EngineHealth                   `json:"engine"`
	RateLimit   ratelimit.Stats                `json:"rate_limit"`
	Compression middleware.CompressionSnapshot `json:"compression"`
}
