package security

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/types"
)

// GuardConfig holds transport-level request checks applied before any
// routing logic runs
type GuardConfig struct {
	MaxRequestSize int64    `yaml:"max_request_size"`
	AllowedMethods []string `yaml:"allowed_methods"`
	ContentTypes   []string `yaml:"allowed_content_types"`
	IPAllowlist    []string `yaml:"ip_allowlist"`
	IPBlocklist    []string `yaml:"ip_blocklist"`
}

// RequestGuard rejects oversized, disallowed or blocked requests
type RequestGuard struct {
	config  *GuardConfig
	logger  *logrus.Logger
	allowed []*net.IPNet
	blocked []*net.IPNet
}

// NewRequestGuard parses the configured address lists
func NewRequestGuard(config *GuardConfig, logger *logrus.Logger) (*RequestGuard, error) {
	if config.MaxRequestSize == 0 {
		config.MaxRequestSize = 10 * 1024 * 1024
	}

	allowed, err := parseNetworks(config.IPAllowlist)
	if err != nil {
		return nil, fmt.Errorf("invalid ip_allowlist: %w", err)
	}
	blocked, err := parseNetworks(config.IPBlocklist)
	if err != nil {
		return nil, fmt.Errorf("invalid ip_blocklist: %w", err)
	}

	return &RequestGuard{config: config, logger: logger, allowed: allowed, blocked: blocked}, nil
}

// Check returns every problem found with the request
func (g *RequestGuard) Check(r *http.Request) []string {
	var problems []string

	if !matchesAny(r.Method, g.config.AllowedMethods) {
		problems = append(problems, fmt.Sprintf("method %s not allowed", r.Method))
	}

	if r.ContentLength > g.config.MaxRequestSize {
		problems = append(problems, fmt.Sprintf("request size %d exceeds maximum %d", r.ContentLength, g.config.MaxRequestSize))
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		contentType := strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0])
		if !matchesAny(contentType, g.config.ContentTypes) {
			problems = append(problems, fmt.Sprintf("content type %q not allowed", contentType))
		}
	}

	clientIP := ClientIP(r)
	ip := net.ParseIP(clientIP)
	if len(g.allowed) > 0 && !containsIP(g.allowed, ip) {
		problems = append(problems, fmt.Sprintf("address %s not allowed", clientIP))
	}
	if containsIP(g.blocked, ip) {
		problems = append(problems, fmt.Sprintf("address %s is blocked", clientIP))
	}

	return problems
}

// Middleware answers 403 for address problems and 400 for everything else
func (g *RequestGuard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			problems := g.Check(r)
			if len(problems) == 0 {
				r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
				next.ServeHTTP(w, r)
				return
			}

			status := http.StatusBadRequest
			for _, p := range problems {
				if strings.HasPrefix(p, "address ") {
					status = http.StatusForbidden
				}
			}

			g.logger.WithFields(logrus.Fields{
				"method":    r.Method,
				"path":      r.URL.Path,
				"client_ip": ClientIP(r),
				"problems":  problems,
			}).Warn("Request rejected")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: types.ErrorDetail{
				Message: "Request rejected",
				Type:    "request_error",
				Code:    strconv.Itoa(status),
				Details: problems,
			}})
		})
	}
}

func matchesAny(value string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

// parseNetworks accepts CIDRs and bare addresses
func parseNetworks(entries []string) ([]*net.IPNet, error) {
	networks := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("bad address %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		networks = append(networks, network)
	}
	return networks, nil
}

func containsIP(networks []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
