package main

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/errors"
	"github.com/ZanzyTHEbar/veritas/internal/middleware"
	"github.com/ZanzyTHEbar/veritas/internal/monitoring"
	"github.com/ZanzyTHEbar/veritas/internal/ratelimit"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
	"github.com/ZanzyTHEbar/veritas/internal/security"
	"github.com/ZanzyTHEbar/veritas/internal/types"
)

const version = "1.0.0"

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	orchestrator   *analysis.Orchestrator
	pool           *resilience.ConnectionPool
	health         *resilience.DegradationManager
	limiter        *ratelimit.RateLimiter
	metrics        *monitoring.Metrics
	logger         *monitoring.Logger
	security       *security.SecurityMiddleware
	compression    *middleware.CompressionMiddleware
	allowedOrigins []string
}

func setupRouter(s *Server) *gin.Engine {
	r := gin.New()

	r.Use(errors.RecoveryHandler())
	r.Use(monitoring.RequestIDMiddleware())
	r.Use(monitoring.TracingMiddleware())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(s.logger))
	r.Use(errors.ErrorHandler())

	corsConfig := cors.DefaultConfig()
	if len(s.allowedOrigins) == 0 || slices.Contains(s.allowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.allowedOrigins
	}
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", monitoring.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{
		"Content-Disposition", monitoring.RequestIDHeader, "Retry-After",
		"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
	}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	r.Use(s.security.SecurityHeaders())
	r.Use(s.compression.Handler())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.Use(s.security.RequestTimeout, s.security.ValidateContentType, s.security.LimitBody)
	{
		api.POST("/analyze", s.limiter.IPRateLimitMiddleware(), s.handleAnalyze)
		api.POST("/report", s.limiter.IPRateLimitMiddleware(), s.handleReport)
		api.POST("/report/render", s.handleRender)
	}

	return r
}

// handleAnalyze godoc
// @Summary      Analyze text for plagiarism
// @Description  Validates the text, asks the detection engine for a report and checks it against the detection contract.
// @Tags         analysis
// @Accept       json
// @Produce      json
// @Param        request  body      types.AnalyzeRequest  true  "Text to analyze (50 to 10,000 characters after trimming)"
// @Success      200      {object}  analysis.Report
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      429      {object}  errors.ErrorResponse
// @Failure      502      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Failure      504      {object}  errors.ErrorResponse
// @Router       /api/analyze [post]
func (s *Server) handleAnalyze(c *gin.Context) {
	report, ok := s.analyze(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleReport godoc
// @Summary      Analyze text and download the text report
// @Tags         analysis
// @Accept       json
// @Produce      plain
// @Param        request  body      types.AnalyzeRequest  true  "Text to analyze"
// @Success      200      {string}  string  "veritas-ai-report.txt"
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      429      {object}  errors.ErrorResponse
// @Failure      502      {object}  errors.ErrorResponse
// @Failure      504      {object}  errors.ErrorResponse
// @Router       /api/report [post]
func (s *Server) handleReport(c *gin.Context) {
	report, ok := s.analyze(c)
	if !ok {
		return
	}
	writeReportFile(c, *report)
}

// handleRender godoc
// @Summary      Render a report the client already holds
// @Description  Checks the report against the detection contract and returns the formatted text report.
// @Tags         analysis
// @Accept       json
// @Produce      plain
// @Param        report  body      analysis.Report  true  "Report to render"
// @Success      200     {string}  string  "veritas-ai-report.txt"
// @Failure      400     {object}  types.ContractErrorResponse
// @Router       /api/report/render [post]
func (s *Server) handleRender(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.abort(c, errors.NewMalformedRequestError(errors.MsgMalformedReport, err))
		return
	}
	if !json.Valid(body) {
		s.abort(c, errors.NewMalformedRequestError(errors.MsgMalformedReport, nil))
		return
	}

	report, err := analysis.ParseReport(body)
	if err == nil {
		err = analysis.ValidateReport(*report)
	}

	var contractErr *analysis.ContractError
	if stderrors.As(err, &contractErr) {
		appErr := errors.NewValidationError("Report violates the detection contract", contractErr.Error())
		appErr.Reason = errors.ReasonContract
		appErr.WithRequestID(c.GetString("request_id"))
		c.JSON(http.StatusBadRequest, types.ContractErrorResponse{
			ErrorResponse: appErr.Response(),
			Violations:    contractErr.Violations,
		})
		return
	}
	if err != nil {
		s.abort(c, errors.NewMalformedRequestError(errors.MsgMalformedReport, err))
		return
	}

	writeReportFile(c, *report)
}

// handleHealth godoc
// @Summary      Service health
// @Description  Engine health from recent calls, circuit breaker state and rate limiter backend.
// @Tags         operations
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       /health [get]
func (s *Server) handleHealth(c *gin.Context) {
	engine := s.orchestrator.Engine()
	engineHealth, _ := s.health.GetServiceHealth(engine)
	poolStats := s.pool.GetStats()
	available := s.health.IsServiceAvailable(engine)

	resp := types.HealthResponse{
		Status:    "ok",
		Version:   version,
		Uptime:    monitoring.Uptime().Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Engine: types.EngineHealth{
			Name:      engine,
			Available: available,
			Health:    engineHealth,
			Pool:      poolStats,
		},
		RateLimit:   s.limiter.GetStats(),
		Compression: s.compression.GetStats(),
	}

	status := http.StatusOK
	switch {
	case !available:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case engineHealth.Level != resilience.LevelNormal || poolStats.CircuitBreaker.State != resilience.StateClosed:
		resp.Status = "degraded"
	}

	c.JSON(status, resp)
}

// handleMetrics godoc
// @Summary      Prometheus metrics
// @Tags         operations
// @Produce      plain
// @Success      200  {string}  string
// @Router       /metrics [get]
func (s *Server) handleMetrics(c *gin.Context) {
	cb := s.pool.CircuitBreaker()
	s.metrics.SetCircuitBreakerState(cb.Stats().Name, int(cb.State()))
	gin.WrapH(s.metrics.Handler())(c)
}

// analyze binds the request and runs it through the orchestrator. On
// failure the error response is already written.
func (s *Server) analyze(c *gin.Context) (*analysis.Report, bool) {
	var req types.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, errors.NewMalformedRequestError(errors.MsgMalformedAnalyzeRequest, err))
		return nil, false
	}

	outcome := s.orchestrator.Analyze(c.Request.Context(), req.Text)
	if !outcome.OK() {
		appErr := outcome.Err.WithRequestID(c.GetString("request_id"))
		c.JSON(appErr.HTTPStatus, appErr.Response())
		return nil, false
	}
	return outcome.Report, true
}

func (s *Server) abort(c *gin.Context, appErr *errors.AppError) {
	appErr.WithRequestID(c.GetString("request_id"))
	errors.LogError(c, appErr)
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
}

func writeReportFile(c *gin.Context, report analysis.Report) {
	c.Header("Content-Disposition", `attachment; filename="`+analysis.ReportFilename+`"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", analysis.FormatReport(report))
}
