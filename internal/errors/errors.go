package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation        ErrorCategory = "validation"
	CategoryNetwork           ErrorCategory = "network"
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryRateLimit         ErrorCategory = "rate_limit"
	CategoryInternal          ErrorCategory = "internal"
	CategoryDetection         ErrorCategory = "detection_failure"
	CategoryContractViolation ErrorCategory = "contract_violation"
	CategoryConfiguration     ErrorCategory = "configuration"
)

// Reasons refine a category into the concrete failure a caller can branch on.
const (
	ReasonTooShort    = "too_short"
	ReasonTooLong     = "too_long"
	ReasonTimeout     = "timeout"
	ReasonCircuitOpen = "circuit_open"
	ReasonTransport   = "transport"
	ReasonContract    = "contract"
	ReasonEngineError = "engine_error"
	ReasonCanceled    = "canceled"
	ReasonMalformed   = "malformed_request"
)

// User-facing messages. These are returned verbatim to callers.
const (
	MsgTooShort          = "Please enter text with at least 50 characters."
	MsgTooLong           = "Text must not be longer than 10,000 characters."
	MsgAnalysisFailed    = "An unexpected error occurred during analysis."
	MsgAnalysisTimeout   = "The analysis timed out. Please try again."
	MsgEngineUnavailable = "The detection service is temporarily unavailable. Please try again later."

	MsgMalformedAnalyzeRequest = "Request body must be JSON with a \"text\" string field."
	MsgMalformedReport         = "Request body must be a JSON plagiarism report."
)

// AppError wraps errbuilder error with additional context
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	Reason     string        `json:"reason,omitempty"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	RequestID  string        `json:"request_id,omitempty"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

// ErrorResponse is the body returned to API callers for any failure.
type ErrorResponse struct {
	Message   string        `json:"message"`
	Category  ErrorCategory `json:"category"`
	Reason    string        `json:"reason,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.Category {
	case CategoryDetection:
		codeStr = "DETECTION_FAILURE"
	case CategoryContractViolation:
		codeStr = "CONTRACT_VIOLATION"
	default:
		switch e.ErrBuilder.ErrCode() {
		case errbuilder.CodeInvalidArgument:
			codeStr = "VALIDATION_ERROR"
		case errbuilder.CodeUnavailable:
			codeStr = "NETWORK_ERROR"
		case errbuilder.CodeDeadlineExceeded:
			codeStr = "TIMEOUT_ERROR"
		case errbuilder.CodeResourceExhausted:
			codeStr = "RATE_LIMIT_EXCEEDED"
		case errbuilder.CodeInternal:
			codeStr = "INTERNAL_ERROR"
		case errbuilder.CodeFailedPrecondition:
			codeStr = "CONFIGURATION_ERROR"
		}
	}

	return fmt.Sprintf("[%s] %s", codeStr, e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Message returns the user-facing message.
func (e *AppError) Message() string {
	return e.ErrBuilder.Msg
}

// Response builds the caller-facing error body.
func (e *AppError) Response() ErrorResponse {
	return ErrorResponse{
		Message:   e.ErrBuilder.Msg,
		Category:  e.Category,
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
}

// WithRequestID stamps the request ID onto the error and returns it.
func (e *AppError) WithRequestID(id string) *AppError {
	e.RequestID = id
	return e
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewValidationError creates a validation error using errbuilder
func NewValidationError(message string, details ...interface{}) *AppError {
	detailStr := ""
	if len(details) > 0 {
		detailStr = fmt.Sprintf("%v", details[0])
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if detailStr != "" {
		errorMap := errbuilder.ErrorMap{}
		errorMap.Set("validation_details", errors.New(detailStr))
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMap))
	}

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewTooShortError is returned when the trimmed input is under the minimum length.
func NewTooShortError(length, minimum int) *AppError {
	appErr := NewValidationError(MsgTooShort, fmt.Sprintf("length %d < %d", length, minimum))
	appErr.Reason = ReasonTooShort
	return appErr
}

// NewTooLongError is returned when the trimmed input exceeds the maximum length.
func NewTooLongError(length, maximum int) *AppError {
	appErr := NewValidationError(MsgTooLong, fmt.Sprintf("length %d > %d", length, maximum))
	appErr.Reason = ReasonTooLong
	return appErr
}

// NewMalformedRequestError covers request bodies that could not be bound.
// message tells the caller what the endpoint expects.
func NewMalformedRequestError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)
	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryValidation, http.StatusBadRequest)
	appErr.Reason = ReasonMalformed
	return appErr
}

// NewNetworkError creates a network error using errbuilder
func NewNetworkError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryNetwork, http.StatusBadGateway)
}

// NewTimeoutError creates a timeout error using errbuilder
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewRateLimitError creates a rate limit error using errbuilder
func NewRateLimitError(retryAfter string) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("retry_after", errors.New(retryAfter))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("Rate limit exceeded").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests)
}

// NewDetectionFailure reports that the detection engine could not produce a result.
// message is what the caller sees; cause is only logged.
func NewDetectionFailure(message, reason string, cause error) *AppError {
	if message == "" {
		message = MsgAnalysisFailed
	}

	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("reason", errors.New(reason))

	code := errbuilder.CodeUnavailable
	status := http.StatusBadGateway
	if reason == ReasonTimeout {
		code = errbuilder.CodeDeadlineExceeded
		status = http.StatusGatewayTimeout
	} else if reason == ReasonCircuitOpen {
		status = http.StatusServiceUnavailable
	}

	builder := errbuilder.New().
		WithCode(code).
		WithMsg(message).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryDetection, status)
	appErr.Reason = reason
	return appErr
}

// NewContractViolation reports an engine response that broke the detection contract.
func NewContractViolation(cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	if cause != nil {
		errorMap.Set("contract_details", cause)
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(MsgAnalysisFailed).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryContractViolation, http.StatusBadGateway)
	appErr.Reason = ReasonContract
	return appErr
}

// NewInternalError creates an internal server error using errbuilder
func NewInternalError(message string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("internal_details", errors.New(message))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal server error").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryInternal, http.StatusInternalServerError)

	// Capture stack trace in development/debug mode
	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// NewConfigurationError creates a configuration error using errbuilder
func NewConfigurationError(message string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("config_details", errors.New(message))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("Configuration error: " + message).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConfiguration, http.StatusInternalServerError)
}

// captureStackTrace captures a stack trace for debugging
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// IsTooShort reports whether err is a too-short validation rejection.
func IsTooShort(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Reason == ReasonTooShort
}

// IsTooLong reports whether err is a too-long validation rejection.
func IsTooLong(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Reason == ReasonTooLong
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err

			appErr := ToAppError(err).WithRequestID(c.GetString("request_id"))
			LogError(c, appErr)

			c.JSON(appErr.HTTPStatus, appErr.Response())
			return
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)
		appErr.StackTrace = captureStackTrace()
		appErr.RequestID = c.GetString("request_id")

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
	})
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Request deadline exceeded", err)
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Request cancelled", err)
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") ||
		strings.Contains(errMsg, "connection reset") {
		return NewNetworkError("Network connection failed", err)
	}

	// Timeout errors
	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return NewTimeoutError("Request timeout", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	requestID := err.RequestID
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}

	logEntry := slog.With(
		"error_category", err.Category,
		"error_reason", err.Reason,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", requestID,
	)

	Log(logEntry, err)
}

// Log writes err to logger at a level chosen by its category. It is usable
// outside of a request, e.g. from the orchestrator or the CLI.
func Log(logger *slog.Logger, err *AppError) {
	errorMsg := err.ErrBuilder.Msg
	errorDetails := err.ErrBuilder.Details
	cause := err.ErrBuilder.Unwrap()

	switch err.Category {
	case CategoryValidation, CategoryRateLimit:
		if len(errorDetails.Errors) > 0 {
			logger.Warn(errorMsg, "details", errorDetails.Errors)
		} else {
			logger.Warn(errorMsg)
		}
	case CategoryNetwork, CategoryTimeout, CategoryDetection:
		if cause != nil {
			logger.Warn(errorMsg, "cause", cause.Error())
		} else {
			logger.Warn(errorMsg)
		}
	default:
		if cause != nil {
			logger.Error(errorMsg, "cause", cause.Error())
		} else {
			logger.Error(errorMsg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logger.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// IsRetryableError checks if an error should trigger a retry
func IsRetryableError(err error) bool {
	appErr := ToAppError(err)

	switch appErr.Category {
	case CategoryNetwork, CategoryTimeout:
		return true
	case CategoryRateLimit:
		return true
	default:
		return false
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	contextMsg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", contextMsg, err)
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
