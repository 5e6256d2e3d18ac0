package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ZanzyTHEbar/veritas/internal/errors"
)

// Detection engine kinds accepted by DETECTION_ENGINE.
const (
	EngineRemote = "remote"
	EngineOllama = "ollama"
)

// Config holds all configuration for the server and the CLI
type Config struct {
	// Server
	Port            string        `env:"PORT" default:"8080"`
	GinMode         string        `env:"GIN_MODE" default:"release"`
	LogLevel        string        `env:"LOG_LEVEL" default:"info"`
	Environment     string        `env:"DEPLOYMENT_ENV" default:"development"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:9002"`

	// Detection engine
	Engine         string        `env:"DETECTION_ENGINE" default:"remote"`
	EngineURL      string        `env:"DETECTION_ENGINE_URL"`
	EngineToken    string        `env:"DETECTION_ENGINE_TOKEN"`
	OllamaURL      string        `env:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel    string        `env:"OLLAMA_MODEL" default:"llama3.1"`
	Timeout        time.Duration `env:"DETECTION_TIMEOUT" default:"60s"`
	MaxAttempts    int           `env:"DETECTION_MAX_ATTEMPTS" default:"2"`
	ForwardTrimmed bool          `env:"FORWARD_TRIMMED_TEXT" default:"false"`

	// Rate limiting
	RedisAddr       string `env:"REDIS_ADDR"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" default:"0"`
	RateLimitPerMin int    `env:"RATE_LIMIT_PER_MIN" default:"30"`

	// Tracing
	OTelEnabled     bool    `env:"OTEL_ENABLED" default:"false"`
	OTelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"http://localhost:4318"`
	OTelSampleRatio float64 `env:"OTEL_TRACE_SAMPLE_RATIO" default:"0.1"`
}

// Load reads a .env file when present and then the environment. It does
// not validate; call Validate before use.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.NewConfigurationError("could not read .env file", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	config := &Config{}
	var err error

	config.Port = getEnvOrDefault("PORT", "8080")
	config.GinMode = getEnvOrDefault("GIN_MODE", "release")
	config.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	config.Environment = getEnvOrDefault("DEPLOYMENT_ENV", "development")
	config.AllowedOrigins = splitList(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:9002"))
	if config.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	config.Engine = strings.ToLower(getEnvOrDefault("DETECTION_ENGINE", EngineRemote))
	config.EngineURL = os.Getenv("DETECTION_ENGINE_URL")
	config.EngineToken = os.Getenv("DETECTION_ENGINE_TOKEN")
	config.OllamaURL = getEnvOrDefault("OLLAMA_URL", "http://localhost:11434")
	config.OllamaModel = getEnvOrDefault("OLLAMA_MODEL", "llama3.1")
	if config.Timeout, err = getDuration("DETECTION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if config.MaxAttempts, err = getInt("DETECTION_MAX_ATTEMPTS", 2); err != nil {
		return nil, err
	}
	if config.ForwardTrimmed, err = getBool("FORWARD_TRIMMED_TEXT", false); err != nil {
		return nil, err
	}

	config.RedisAddr = os.Getenv("REDIS_ADDR")
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if config.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.RateLimitPerMin, err = getInt("RATE_LIMIT_PER_MIN", 30); err != nil {
		return nil, err
	}

	if config.OTelEnabled, err = getBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	config.OTelEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	if config.OTelSampleRatio, err = getFloat("OTEL_TRACE_SAMPLE_RATIO", 0.1); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineRemote:
		if c.EngineURL == "" {
			return errors.NewConfigurationError("DETECTION_ENGINE_URL is required for the remote engine", nil)
		}
		if err := validateURL("DETECTION_ENGINE_URL", c.EngineURL); err != nil {
			return err
		}
	case EngineOllama:
		if err := validateURL("OLLAMA_URL", c.OllamaURL); err != nil {
			return err
		}
		if c.OllamaModel == "" {
			return errors.NewConfigurationError("OLLAMA_MODEL must not be empty", nil)
		}
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unknown DETECTION_ENGINE %q (want %s or %s)", c.Engine, EngineRemote, EngineOllama), nil)
	}

	if c.Timeout <= 0 {
		return errors.NewConfigurationError("DETECTION_TIMEOUT must be positive", nil)
	}
	if c.MaxAttempts < 1 {
		return errors.NewConfigurationError("DETECTION_MAX_ATTEMPTS must be at least 1", nil)
	}
	if c.RateLimitPerMin < 1 {
		return errors.NewConfigurationError("RATE_LIMIT_PER_MIN must be at least 1", nil)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return errors.NewConfigurationError("OTEL_TRACE_SAMPLE_RATIO must be within [0,1]", nil)
	}
	return nil
}

// EngineEndpoint returns the URL the configured engine is reached at.
func (c *Config) EngineEndpoint() string {
	if c.Engine == EngineOllama {
		return c.OllamaURL
	}
	return c.EngineURL
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewConfigurationError(fmt.Sprintf("%s must be an absolute URL, got %q", key, raw), err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NewConfigurationError(fmt.Sprintf("invalid %s: %q", key, value), err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewConfigurationError(fmt.Sprintf("invalid %s: %q", key, value), err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.NewConfigurationError(fmt.Sprintf("invalid %s: %q", key, value), err)
	}
	return b, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.NewConfigurationError(fmt.Sprintf("invalid %s: %q", key, value), err)
	}
	return f, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
