// @title        Veritas AI Plagiarism Checker API
// @version      1.0.0
// @description  Submit text, receive a plagiarism report with scores, analysis and matched sources.
// @BasePath     /
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "github.com/ZanzyTHEbar/veritas/docs"
	"github.com/ZanzyTHEbar/veritas/internal/adapters"
	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/config"
	"github.com/ZanzyTHEbar/veritas/internal/errors"
	"github.com/ZanzyTHEbar/veritas/internal/middleware"
	"github.com/ZanzyTHEbar/veritas/internal/monitoring"
	"github.com/ZanzyTHEbar/veritas/internal/ratelimit"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
	"github.com/ZanzyTHEbar/veritas/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(os.Stdout, monitoring.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger.Logger)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	shutdownTracing, err := monitoring.InitTracing(ctx, monitoring.TracingConfig{
		ServiceName:    "veritas-ai",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		Enabled:        cfg.OTelEnabled,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	metrics := monitoring.NewMetrics()
	pool := adapters.NewEnginePool(cfg)
	detector, err := adapters.NewDetector(cfg, pool)
	if err != nil {
		slog.Error("Failed to create detection engine", "error", err)
		os.Exit(1)
	}

	health := resilience.NewDegradationManager(resilience.DefaultDegradationConfig())
	orchestrator := analysis.NewOrchestrator(detector, analysis.Options{
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		ForwardTrimmed: cfg.ForwardTrimmed,
		Logger:         logger,
		Metrics:        metrics,
		Health:         health,
	})

	redisClient, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Redis unavailable, falling back to in-memory rate limiting", "error", err)
	}
	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.Config{PerMinute: cfg.RateLimitPerMin}, metrics)

	// The request deadline must outlive every engine attempt plus backoff.
	securityConfig := security.DefaultSecurityConfig()
	securityConfig.RequestTimeout = time.Duration(cfg.MaxAttempts)*cfg.Timeout + 15*time.Second
	securityConfig.EnableHSTS = cfg.Environment == "production"

	srv := &Server{
		orchestrator:   orchestrator,
		pool:           pool,
		health:         health,
		limiter:        limiter,
		metrics:        metrics,
		logger:         logger,
		security:       security.NewSecurityMiddleware(securityConfig),
		compression:    middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		allowedOrigins: cfg.AllowedOrigins,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server",
			"port", cfg.Port,
			"engine", detector.Name(),
			"endpoint", cfg.EngineEndpoint(),
			"rate_limit_backend", limiter.GetStats().Backend,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	limiter.Close()
	health.GracefulShutdown()
	errors.SafeClose(redisClient, "redis")
	errors.SafeClose(pool, "engine connection pool")
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("Failed to flush traces", "error", err)
	}

	slog.Info("Server exited")
}
