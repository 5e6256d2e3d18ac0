package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/veritas/internal/errors"
)

var allKeys = []string{
	"PORT", "GIN_MODE", "LOG_LEVEL", "DEPLOYMENT_ENV", "SHUTDOWN_TIMEOUT", "ALLOWED_ORIGINS",
	"DETECTION_ENGINE", "DETECTION_ENGINE_URL", "DETECTION_ENGINE_TOKEN", "OLLAMA_URL", "OLLAMA_MODEL",
	"DETECTION_TIMEOUT", "DETECTION_MAX_ATTEMPTS", "FORWARD_TRIMMED_TEXT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "RATE_LIMIT_PER_MIN",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACE_SAMPLE_RATIO",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, EngineRemote, cfg.Engine)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.False(t, cfg.ForwardTrimmed)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:9002"}, cfg.AllowedOrigins)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, 0.1, cfg.OTelSampleRatio)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DETECTION_ENGINE", "Ollama")
	t.Setenv("DETECTION_TIMEOUT", "15s")
	t.Setenv("DETECTION_MAX_ATTEMPTS", "3")
	t.Setenv("FORWARD_TRIMMED_TEXT", "true")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("REDIS_DB", "2")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, EngineOllama, cfg.Engine)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.ForwardTrimmed)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, cfg.OllamaURL, cfg.EngineEndpoint())
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	for key, value := range map[string]string{
		"DETECTION_TIMEOUT":       "sixty",
		"DETECTION_MAX_ATTEMPTS":  "two",
		"FORWARD_TRIMMED_TEXT":    "maybe",
		"OTEL_TRACE_SAMPLE_RATIO": "half",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := FromEnv()
			require.Error(t, err)
			assert.Equal(t, errors.CategoryConfiguration, errors.ToAppError(err).Category)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Engine:          EngineRemote,
			EngineURL:       "https://engine.internal/detect",
			Timeout:         time.Minute,
			MaxAttempts:     2,
			RateLimitPerMin: 30,
			OTelSampleRatio: 0.1,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "remote without url", mutate: func(c *Config) { c.EngineURL = "" }},
		{name: "relative engine url", mutate: func(c *Config) { c.EngineURL = "/detect" }},
		{name: "unknown engine", mutate: func(c *Config) { c.Engine = "magic" }},
		{name: "ollama without model", mutate: func(c *Config) {
			c.Engine = EngineOllama
			c.OllamaURL = "http://localhost:11434"
			c.OllamaModel = ""
		}},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimitPerMin = 0 }},
		{name: "sample ratio above one", mutate: func(c *Config) { c.OTelSampleRatio = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CategoryConfiguration, errors.ToAppError(err).Category)
		})
	}
}
