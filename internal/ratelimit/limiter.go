package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/veritas/internal/monitoring"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	keyPrefix = "veritas:ratelimit:ip:"
)

// Config holds rate limiter configuration
type Config struct {
	// PerMinute is the sustained number of analyses one client IP may start.
	PerMinute int
	// Burst is the bucket size. Zero means PerMinute.
	Burst int
	// IdleTTL is how long an unused in-memory bucket is kept.
	IdleTTL time.Duration
	// CleanupInterval is how often idle in-memory buckets are swept.
	CleanupInterval time.Duration
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		PerMinute:       30,
		IdleTTL:         10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Backend    string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP. Redis holds the shared state
// when available; otherwise, or when Redis fails, a per-process token
// bucket decides.
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	metrics      *monitoring.Metrics

	buckets   map[string]*bucket
	bucketsMu sync.Mutex

	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
}

// NewRateLimiter creates a rate limiter. A nil or disabled redisClient
// selects in-memory limiting only.
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	defaults := DefaultConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = defaults.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	rl := &RateLimiter{
		redisClient: redisClient,
		config:      config,
		metrics:     metrics,
		buckets:     make(map[string]*bucket),
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized", "per_minute", config.PerMinute)
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only", "per_minute", config.PerMinute)
	}

	go rl.cleanupLoop()

	return rl
}

// AllowIP checks whether ip may start another analysis.
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	key := keyPrefix + ip

	if rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key)
		if err == nil {
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "ip", ip, "error", err)
		rl.metrics.RecordRateLimitFallback()
	}

	return rl.allowMemory(key), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (*Result, error) {
	limit := redis_rate.Limit{
		Rate:   rl.config.PerMinute,
		Burst:  rl.config.Burst,
		Period: time.Minute,
	}

	res, err := rl.redisLimiter.Allow(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    rl.now().Add(res.ResetAfter),
		RetryAfter: max(res.RetryAfter, 0),
		Backend:    BackendRedis,
	}, nil
}

func (rl *RateLimiter) allowMemory(key string) *Result {
	now := rl.now()

	rl.bucketsMu.Lock()
	defer rl.bucketsMu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		every := time.Minute / time.Duration(rl.config.PerMinute)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), rl.config.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	result := &Result{
		Allowed: true,
		Limit:   rl.config.PerMinute,
		Backend: BackendMemory,
	}

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		result.Allowed = false
		result.RetryAfter = delay
	}

	tokens := b.limiter.TokensAt(now)
	result.Remaining = max(int(tokens), 0)

	// Time until the bucket is full again.
	missing := float64(rl.config.Burst) - tokens
	refill := time.Duration(missing * float64(time.Minute) / float64(rl.config.PerMinute))
	result.ResetAt = now.Add(refill)

	return result
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			if n := rl.sweep(); n > 0 {
				slog.Debug("Swept idle rate limit buckets", "count", n)
			}
		}
	}
}

// sweep drops buckets unused for longer than IdleTTL and returns how many
// were removed.
func (rl *RateLimiter) sweep() int {
	cutoff := rl.now().Add(-rl.config.IdleTTL)

	rl.bucketsMu.Lock()
	defer rl.bucketsMu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Stats is a snapshot for the health endpoint.
type Stats struct {
	Backend       string    `json:"backend"`
	PerMinute     int       `json:"per_minute"`
	MemoryBuckets int       `json:"memory_buckets"`
	Redis         PoolStats `json:"redis"`
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() Stats {
	rl.bucketsMu.Lock()
	count := len(rl.buckets)
	rl.bucketsMu.Unlock()

	backend := BackendMemory
	if rl.redisLimiter != nil {
		backend = BackendRedis
	}

	return Stats{
		Backend:       backend,
		PerMinute:     rl.config.PerMinute,
		MemoryBuckets: count,
		Redis:         rl.redisClient.GetPoolStats(),
	}
}

// Close stops the cleanup loop. It does not close the Redis client.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
}
