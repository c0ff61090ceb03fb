package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/types"
)

// CallerHeader identifies the calling client for per-caller limits
const CallerHeader = "X-Caller-ID"

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	// RedisURL switches to a shared sliding window when set
	RedisURL string `yaml:"redis_url"`
}

func (c *RateLimitConfig) applyDefaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 600
	}
	if c.WindowDuration == 0 {
		c.WindowDuration = time.Minute
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.BurstSize == 0 {
		c.BurstSize = c.RequestsPerMinute
	}
}

// NewRateLimiter returns a Redis limiter when a URL is configured and an
// in-memory one otherwise
func NewRateLimiter(config *RateLimitConfig, logger *logrus.Logger) (RateLimiter, error) {
	if config.RedisURL == "" {
		return NewInMemoryRateLimiter(config, logger), nil
	}
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return NewRedisRateLimiter(redis.NewClient(opts), config, logger), nil
}

// InMemoryRateLimiter is a per-process token bucket limiter
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	buckets map[string]*tokenBucket
	mutex   sync.Mutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopped       bool
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	config.applyDefaults()

	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		buckets:     make(map[string]*tokenBucket),
		stopCleanup: make(chan struct{}),
	}
	rl.startCleanup()
	return rl
}

// Allow takes one token from the key's bucket
func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Limit:     rl.config.RequestsPerMinute,
			Remaining: rl.config.RequestsPerMinute,
			ResetTime: now.Add(rl.config.WindowDuration),
		}, nil
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = bucket
	}
	bucket.lastUsed = now

	rate := float64(rl.config.RequestsPerMinute) / rl.config.WindowDuration.Seconds()
	if elapsed := now.Sub(bucket.lastRefill).Seconds(); elapsed > 0 {
		bucket.tokens = minFloat(bucket.tokens+elapsed*rate, float64(rl.config.BurstSize))
		bucket.lastRefill = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return &RateLimitResult{
			Allowed:   true,
			Limit:     rl.config.RequestsPerMinute,
			Remaining: int(bucket.tokens),
			ResetTime: now.Add(rl.config.WindowDuration),
		}, nil
	}

	retryAfter := time.Duration((1 - bucket.tokens) / rate * float64(time.Second))
	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Limit:      rl.config.RequestsPerMinute,
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// Reset resets the rate limit for a key
func (rl *InMemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.buckets, key)
	rl.logger.WithField("key", maskKey(key)).Info("Rate limit reset")
	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup removes buckets that haven't been used recently
func (rl *InMemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)
	removed := 0
	for key, bucket := range rl.buckets {
		if bucket.lastUsed.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop stops the cleanup goroutine
func (rl *InMemoryRateLimiter) Stop() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.stopped {
		return
	}
	rl.stopped = true
	rl.cleanupTicker.Stop()
	close(rl.stopCleanup)
}

// RedisRateLimiter keeps a sliding window per key in a Redis sorted set so
// that several router replicas share one budget
type RedisRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	logger *logrus.Logger
}

// NewRedisRateLimiter creates a limiter over an existing client
func NewRedisRateLimiter(client *redis.Client, config *RateLimitConfig, logger *logrus.Logger) *RedisRateLimiter {
	config.applyDefaults()
	return &RedisRateLimiter{client: client, config: config, logger: logger}
}

func redisKey(key string) string {
	return "request-router:ratelimit:" + key
}

// Allow records the request in the window and admits it while the window
// holds fewer than RequestsPerMinute entries. Redis errors fail open.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	limit := rl.config.RequestsPerMinute
	window := rl.config.WindowDuration
	if !rl.config.Enabled {
		return &RateLimitResult{Allowed: true, Limit: limit, Remaining: limit, ResetTime: now.Add(window)}, nil
	}

	rkey := redisKey(key)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	count := pipe.ZCard(ctx, rkey)
	pipe.ZAdd(ctx, rkey, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, rkey, 2*window)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.WithError(err).WithField("key", maskKey(key)).Warn("Redis rate limit check failed, allowing request")
		return &RateLimitResult{Allowed: true, Limit: limit, Remaining: limit, ResetTime: now.Add(window)}, nil
	}

	used := int(count.Val())
	if used < limit {
		return &RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - used - 1,
			ResetTime: now.Add(window),
		}, nil
	}

	// rejected requests don't consume the window
	if err := rl.client.ZRem(ctx, rkey, member).Err(); err != nil {
		rl.logger.WithError(err).Debug("Failed to remove rejected request from window")
	}

	retryAfter := window
	oldest, err := rl.client.ZRangeWithScores(ctx, rkey, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		expires := time.UnixMilli(int64(oldest[0].Score)).Add(window)
		if until := expires.Sub(now); until > 0 {
			retryAfter = until
		}
	}

	rl.logger.WithFields(logrus.Fields{
		"key":         maskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the window for a key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := rl.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool
func (rl *RedisRateLimiter) Close() error {
	return rl.client.Close()
}

// RateLimitMiddleware rejects requests over the limit with 429
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).Error("Rate limiter failed")
				writeRateLimitError(w, http.StatusInternalServerError, "Rate limiting error", "internal_error", 0)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				retrySeconds := int(result.RetryAfter.Round(time.Second).Seconds())
				if retrySeconds < 1 {
					retrySeconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
				writeRateLimitError(w, http.StatusTooManyRequests, "Rate limit exceeded", "rate_limit_error", retrySeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, status int, message, errType string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := types.ErrorResponse{Error: types.ErrorDetail{Message: message, Type: errType, Code: strconv.Itoa(status)}}
	if retryAfter > 0 {
		resp.Error.Details = []string{fmt.Sprintf("retry after %ds", retryAfter)}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// CallerKeyExtractor keys limits by caller id, falling back to client IP
func CallerKeyExtractor(r *http.Request) string {
	if caller := strings.TrimSpace(r.Header.Get(CallerHeader)); caller != "" {
		return "caller:" + caller
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the originating address, honoring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}
