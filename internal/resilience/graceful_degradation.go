package resilience

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DegradationLevel represents the current degradation state
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
	LevelEmergency
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in JSON health payloads.
func (l DegradationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level written by MarshalText.
func (l *DegradationLevel) UnmarshalText(text []byte) error {
	for _, candidate := range []DegradationLevel{LevelNormal, LevelDegraded, LevelCritical, LevelEmergency} {
		if candidate.String() == string(text) {
			*l = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown degradation level %q", text)
}

// DegradationConfig holds configuration for graceful degradation
type DegradationConfig struct {
	WindowSize         int     `json:"window_size"`         // Number of recent calls the error rate is computed over
	MinSamples         int     `json:"min_samples"`         // Calls needed before the level can leave normal
	DegradedThreshold  float64 `json:"degraded_threshold"`  // Error rate threshold (0.0-1.0)
	CriticalThreshold  float64 `json:"critical_threshold"`  // Error rate threshold (0.0-1.0)
	EmergencyThreshold float64 `json:"emergency_threshold"` // Error rate threshold (0.0-1.0)
}

// DefaultDegradationConfig returns sensible defaults
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		WindowSize:         50,
		MinSamples:         5,
		DegradedThreshold:  0.1,
		CriticalThreshold:  0.25,
		EmergencyThreshold: 0.5,
	}
}

// ServiceHealth represents the health status of a detection engine
type ServiceHealth struct {
	ServiceName   string           `json:"service_name"`
	Level         DegradationLevel `json:"level"`
	ErrorRate     float64          `json:"error_rate"`
	TotalRequests int64            `json:"total_requests"`
	ErrorCount    int64            `json:"error_count"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorTime *time.Time       `json:"last_error_time,omitempty"`
	DegradedSince *time.Time       `json:"degraded_since,omitempty"`
	StatusMessage string           `json:"status_message"`
}

type serviceState struct {
	health ServiceHealth
	window []bool // ring buffer, true = failed
	next   int
	filled int
}

// DegradationManager tracks engine health from the outcomes of real calls.
// It never blocks a call; it only reports.
type DegradationManager struct {
	config   DegradationConfig
	services map[string]*serviceState
	mutex    sync.RWMutex
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager(config DegradationConfig) *DegradationManager {
	defaults := DefaultDegradationConfig()
	if config.WindowSize <= 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.MinSamples <= 0 {
		config.MinSamples = defaults.MinSamples
	}
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = defaults.DegradedThreshold
	}
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = defaults.CriticalThreshold
	}
	if config.EmergencyThreshold <= 0 {
		config.EmergencyThreshold = defaults.EmergencyThreshold
	}

	return &DegradationManager{
		config:   config,
		services: make(map[string]*serviceState),
	}
}

// RegisterService starts tracking a service. Recording for an unknown
// service registers it implicitly.
func (dm *DegradationManager) RegisterService(serviceName string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	dm.lookup(serviceName)
}

func (dm *DegradationManager) lookup(serviceName string) *serviceState {
	state, ok := dm.services[serviceName]
	if !ok {
		state = &serviceState{
			health: ServiceHealth{
				ServiceName:   serviceName,
				Level:         LevelNormal,
				StatusMessage: "Service is healthy",
			},
			window: make([]bool, dm.config.WindowSize),
		}
		dm.services[serviceName] = state
		slog.Info("Registered service for degradation management", "service", serviceName)
	}
	return state
}

// Record registers the outcome of one call. A nil err is a success.
func (dm *DegradationManager) Record(serviceName string, err error) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	state := dm.lookup(serviceName)
	failed := err != nil

	state.window[state.next] = failed
	state.next = (state.next + 1) % len(state.window)
	if state.filled < len(state.window) {
		state.filled++
	}

	state.health.TotalRequests++
	if failed {
		now := time.Now()
		state.health.ErrorCount++
		state.health.LastError = err.Error()
		state.health.LastErrorTime = &now
	}

	dm.updateDegradationLevel(state)
}

func (dm *DegradationManager) updateDegradationLevel(state *serviceState) {
	failures := 0
	for i := 0; i < state.filled; i++ {
		if state.window[i] {
			failures++
		}
	}

	service := &state.health
	service.ErrorRate = float64(failures) / float64(state.filled)

	oldLevel := service.Level
	var newLevel DegradationLevel
	var statusMessage string

	switch {
	case state.filled < dm.config.MinSamples:
		newLevel = LevelNormal
		statusMessage = "Service is healthy"
	case service.ErrorRate >= dm.config.EmergencyThreshold:
		newLevel = LevelEmergency
		statusMessage = "Service is in emergency state - high error rate"
	case service.ErrorRate >= dm.config.CriticalThreshold:
		newLevel = LevelCritical
		statusMessage = "Service is in critical state - elevated error rate"
	case service.ErrorRate >= dm.config.DegradedThreshold:
		newLevel = LevelDegraded
		statusMessage = "Service is degraded - moderate error rate"
	default:
		newLevel = LevelNormal
		statusMessage = "Service is healthy"
	}

	if newLevel != LevelNormal && service.DegradedSince == nil {
		now := time.Now()
		service.DegradedSince = &now
	} else if newLevel == LevelNormal {
		service.DegradedSince = nil
	}

	service.Level = newLevel
	service.StatusMessage = statusMessage

	if oldLevel != newLevel {
		slog.Warn("Service degradation level changed",
			"service", service.ServiceName,
			"old_level", oldLevel.String(),
			"new_level", newLevel.String(),
			"error_rate", service.ErrorRate,
			"total_requests", service.TotalRequests,
			"error_count", service.ErrorCount)
	}
}

// GetServiceHealth returns a copy of the health status of a service
func (dm *DegradationManager) GetServiceHealth(serviceName string) (ServiceHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	state, exists := dm.services[serviceName]
	if !exists {
		return ServiceHealth{}, false
	}
	return state.health, true
}

// GetAllServiceHealth returns health status for all services
func (dm *DegradationManager) GetAllServiceHealth() map[string]ServiceHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	result := make(map[string]ServiceHealth, len(dm.services))
	for name, state := range dm.services {
		result[name] = state.health
	}
	return result
}

// IsServiceAvailable reports false only once a service reached emergency level.
func (dm *DegradationManager) IsServiceAvailable(serviceName string) bool {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	state, exists := dm.services[serviceName]
	if !exists {
		return true
	}
	return state.health.Level != LevelEmergency
}

// ResetService resets a service's health status
func (dm *DegradationManager) ResetService(serviceName string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if state, exists := dm.services[serviceName]; exists {
		state.health = ServiceHealth{
			ServiceName:   serviceName,
			Level:         LevelNormal,
			StatusMessage: "Service is healthy",
		}
		state.window = make([]bool, dm.config.WindowSize)
		state.next = 0
		state.filled = 0
		slog.Info("Service health reset", "service", serviceName)
	}
}

// GracefulShutdown logs the final status of every tracked service
func (dm *DegradationManager) GracefulShutdown() {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	slog.Info("Degradation manager shutting down", "services", len(dm.services))

	for name, state := range dm.services {
		slog.Info("Final service status",
			"service", name,
			"level", state.health.Level.String(),
			"error_rate", state.health.ErrorRate,
			"total_requests", state.health.TotalRequests,
			"error_count", state.health.ErrorCount)
	}
}
