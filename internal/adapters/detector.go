package adapters

import (
	"fmt"

	"github.com/ZanzyTHEbar/veritas/internal/analysis"
	"github.com/ZanzyTHEbar/veritas/internal/config"
	"github.com/ZanzyTHEbar/veritas/internal/resilience"
)

// NewDetector builds the engine selected by cfg.Engine on top of pool.
func NewDetector(cfg *config.Config, pool *resilience.ConnectionPool) (analysis.Detector, error) {
	switch cfg.Engine {
	case config.EngineRemote:
		return NewRemoteDetector(cfg.EngineURL, cfg.EngineToken, pool), nil
	case config.EngineOllama:
		return NewOllamaDetector(cfg.OllamaURL, cfg.OllamaModel, pool), nil
	default:
		return nil, fmt.Errorf("unknown detection engine %q", cfg.Engine)
	}
}

// NewEnginePool creates the pooled transport and circuit breaker for cfg's engine.
func NewEnginePool(cfg *config.Config) *resilience.ConnectionPool {
	cb := resilience.NewCircuitBreaker(cfg.Engine, resilience.DefaultCircuitBreakerConfig())
	return resilience.NewConnectionPool(resilience.DefaultPoolConfig(), cb)
}
