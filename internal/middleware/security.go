package middleware

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/security"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// SecurityMiddlewareConfig holds configuration for security middleware
type SecurityMiddlewareConfig struct {
	RateLimit *security.RateLimitConfig `yaml:"rate_limit"`
	Guard     *security.GuardConfig     `yaml:"guard"`
}

// CORSConfig configures cross-origin access to the HTTP API
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// SecurityMiddleware combines rate limiting, request guarding and
// response hardening
type SecurityMiddleware struct {
	rateLimiter security.RateLimiter
	guard       *security.RequestGuard
	logger      *logrus.Logger
}

// NewSecurityMiddleware creates a new security middleware stack
func NewSecurityMiddleware(config *SecurityMiddlewareConfig, logger *logrus.Logger) (*SecurityMiddleware, error) {
	s := &SecurityMiddleware{logger: logger}

	if config.RateLimit != nil && config.RateLimit.Enabled {
		limiter, err := security.NewRateLimiter(config.RateLimit, logger)
		if err != nil {
			return nil, err
		}
		s.rateLimiter = limiter
	}

	if config.Guard != nil {
		guard, err := security.NewRequestGuard(config.Guard, logger)
		if err != nil {
			return nil, err
		}
		s.guard = guard
	}

	return s, nil
}

// Handler creates the complete security middleware chain
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if s.guard != nil {
			handler = s.guard.Middleware()(handler)
		}
		if s.rateLimiter != nil {
			handler = security.RateLimitMiddleware(s.rateLimiter, security.CallerKeyExtractor, s.logger)(handler)
		}

		return securityHeaders(handler)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Server", "request-router")
		w.Header().Set("X-API-Version", "1.0")

		next.ServeHTTP(w, r)
	})
}

// Stop releases limiter resources
func (s *SecurityMiddleware) Stop() {
	switch limiter := s.rateLimiter.(type) {
	case *security.InMemoryRateLimiter:
		limiter.Stop()
	case io.Closer:
		if err := limiter.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close rate limiter")
		}
	}
}

// GetStats reports which protections are active
func (s *SecurityMiddleware) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"rate_limiter_enabled": s.rateLimiter != nil,
		"guard_enabled":        s.guard != nil,
	}
	if s.rateLimiter != nil {
		_, distributed := s.rateLimiter.(*security.RedisRateLimiter)
		stats["rate_limiter_distributed"] = distributed
	}
	return stats
}

// CORS builds an rs/cors handler; a disabled config passes requests through
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	if !config.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	headers := config.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", RequestIDHeader, security.CallerHeader}
	}
	maxAge := config.MaxAge
	if maxAge == 0 {
		maxAge = 86400
	}

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: headers,
		ExposedHeaders: []string{RequestIDHeader, "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         maxAge,
	})
	return c.Handler
}

// RequestID echoes the caller's X-Request-ID or assigns a new one and
// stores it on the request context
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the id assigned by RequestID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
