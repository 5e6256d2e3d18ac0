package security

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/veritas/internal/errors"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	// RequestTimeout bounds the whole request, engine retries included.
	RequestTimeout time.Duration `json:"request_timeout"`
	// MaxBodyBytes caps request bodies before they are decoded.
	MaxBodyBytes int64 `json:"max_body_bytes"`
	// EnableHSTS sends Strict-Transport-Security.
	EnableHSTS bool `json:"enable_hsts"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RequestTimeout: 150 * time.Second,
		MaxBodyBytes:   1 << 20,
	}
}

// SecurityMiddleware groups the HTTP hardening handlers of the API.
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	defaults := DefaultSecurityConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	return &SecurityMiddleware{config: config}
}

// Config returns the effective configuration.
func (sm *SecurityMiddleware) Config() SecurityConfig {
	return sm.config
}

// ValidateContentType rejects request bodies that are not JSON. Requests
// without a body pass.
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if c.Request.ContentLength == 0 && c.GetHeader("Content-Type") == "" {
		c.Next()
		return
	}

	mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || mediaType != "application/json" {
		appErr := errors.NewValidationError("Content-Type must be application/json").
			WithRequestID(c.GetString("request_id"))
		appErr.HTTPStatus = http.StatusUnsupportedMediaType
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
		return
	}

	c.Next()
}

// LimitBody caps the request body. Reads past the cap fail, which the JSON
// binding reports as a malformed request.
func (sm *SecurityMiddleware) LimitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxBodyBytes)
	c.Next()
}

// RequestTimeout enforces request timeout
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// SecurityHeaders adds security headers to responses
func (sm *SecurityMiddleware) SecurityHeaders() gin.HandlerFunc {
	return SecurityHeadersMiddleware(sm.config.EnableHSTS)
}
