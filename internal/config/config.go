package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/request-router/internal/audit"
	"github.com/tributary-ai/request-router/internal/health"
	"github.com/tributary-ai/request-router/internal/middleware"
	"github.com/tributary-ai/request-router/internal/providers/anthropic"
	"github.com/tributary-ai/request-router/internal/providers/bedrock"
	"github.com/tributary-ai/request-router/internal/providers/openai"
	"github.com/tributary-ai/request-router/internal/routing"
	"github.com/tributary-ai/request-router/internal/security"
	"github.com/tributary-ai/request-router/internal/server"
	"github.com/tributary-ai/request-router/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Router    RouterConfig            `yaml:"router"`
	Endpoints []types.ServiceEndpoint `yaml:"endpoints"`
	Providers ProvidersConfig         `yaml:"providers"`
	Logging   LoggingConfig           `yaml:"logging"`
	Security  SecurityConfig          `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RouterConfig holds routing engine configuration
type RouterConfig struct {
	HealthCheckInterval time.Duration         `yaml:"health_check_interval"`
	ProbeTimeout        time.Duration         `yaml:"probe_timeout"`
	History             routing.HistoryConfig `yaml:"history"`
	Journal             audit.Config          `yaml:"journal"`
}

// ProvidersConfig holds credentials for hosted model providers and settings
// shared by the plain HTTP backends
type ProvidersConfig struct {
	OpenAI    *openai.OpenAIConfig       `yaml:"openai"`
	Anthropic *anthropic.AnthropicConfig `yaml:"anthropic"`
	Bedrock   *bedrock.BedrockConfig     `yaml:"bedrock"`
	HTTP      HTTPBackendConfig          `yaml:"http"`
}

// HTTPBackendConfig configures the adapter for orchestration, workflow,
// inference, decision graph and agent crew backends
type HTTPBackendConfig struct {
	Timeout time.Duration          `yaml:"timeout"`
	Signing security.SigningConfig `yaml:"signing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting      security.RateLimitConfig    `yaml:"rate_limiting"`
	Guard             *security.GuardConfig       `yaml:"guard"`
	CORS              middleware.CORSConfig       `yaml:"cors"`
	RequestValidation middleware.ValidationConfig `yaml:"request_validation"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	config.applyEndpointDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   330 * time.Second, // longest per-kind dispatch timeout plus headroom
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Router = RouterConfig{
		HealthCheckInterval: 30 * time.Second,
		ProbeTimeout:        5 * time.Second,
		History: routing.HistoryConfig{
			Capacity: 10000,
			TrimTo:   5000,
		},
		Journal: audit.Config{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 10 * time.Second,
		},
	}

	c.Providers = ProvidersConfig{
		HTTP: HTTPBackendConfig{
			Timeout: 300 * time.Second,
			Signing: security.SigningConfig{
				Issuer:   "request-router",
				TokenTTL: time.Minute,
			},
		},
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		RateLimiting: security.RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 600,
			BurstSize:         100,
			WindowDuration:    time.Minute,
			CleanupInterval:   5 * time.Minute,
		},
		CORS: middleware.CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
		},
		RequestValidation: middleware.ValidationConfig{
			Enabled: true,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	if port := os.Getenv("REQUEST_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("REQUEST_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("REQUEST_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if interval := os.Getenv("REQUEST_ROUTER_HEALTH_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("REQUEST_ROUTER_HEALTH_INTERVAL: %w", err)
		}
		c.Router.HealthCheckInterval = parsed
	}

	if redisURL := os.Getenv("REQUEST_ROUTER_REDIS_URL"); redisURL != "" {
		c.Security.RateLimiting.RedisURL = redisURL
	}

	if secret := os.Getenv("REQUEST_ROUTER_SIGNING_SECRET"); secret != "" {
		c.Providers.HTTP.Signing.Secret = secret
	}

	// Provider credentials
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		if c.Providers.OpenAI == nil {
			c.Providers.OpenAI = &openai.OpenAIConfig{}
		}
		c.Providers.OpenAI.APIKey = openaiKey
	}

	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		if c.Providers.Anthropic == nil {
			c.Providers.Anthropic = &anthropic.AnthropicConfig{}
		}
		c.Providers.Anthropic.APIKey = anthropicKey
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		if c.Providers.Bedrock == nil {
			c.Providers.Bedrock = &bedrock.BedrockConfig{}
		}
		c.Providers.Bedrock.Region = region
	}

	return nil
}

// applyEndpointDefaults fills per-endpoint settings left out of the file
func (c *Config) applyEndpointDefaults() {
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Probe == "" {
			ep.Probe = health.DefaultProbeFor(ep.Kind)
		}
		if ep.Health == "" {
			ep.Health = types.HealthUnknown
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Router.HealthCheckInterval <= 0 {
		return fmt.Errorf("router health_check_interval must be positive")
	}

	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be configured")
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if err := c.validateEndpoint(ep); err != nil {
			return err
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint name: %s", ep.Name)
		}
		seen[ep.Name] = true
	}

	return nil
}

func (c *Config) validateEndpoint(ep types.ServiceEndpoint) error {
	if ep.Name == "" {
		return fmt.Errorf("endpoint name cannot be empty")
	}
	if !ep.Kind.Valid() {
		return fmt.Errorf("endpoint %s: unsupported kind %q", ep.Name, ep.Kind)
	}
	if ep.Priority < 1 || ep.Priority > 10 {
		return fmt.Errorf("endpoint %s: priority must be between 1 and 10, got %d", ep.Name, ep.Priority)
	}
	if ep.CostPerRequest < 0 {
		return fmt.Errorf("endpoint %s: cost_per_request must not be negative", ep.Name)
	}

	switch ep.Probe {
	case types.ProbeHTTP, types.ProbeGRPC, types.ProbeCredential:
	default:
		return fmt.Errorf("endpoint %s: unsupported probe %q", ep.Name, ep.Probe)
	}

	switch ep.Kind {
	case types.KindOpenAI:
		if c.Providers.OpenAI == nil || c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("endpoint %s: OpenAI API key is required", ep.Name)
		}
	case types.KindAnthropic:
		if c.Providers.Anthropic == nil || c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("endpoint %s: Anthropic API key is required", ep.Name)
		}
	case types.KindBedrock:
		if c.Providers.Bedrock == nil || c.Providers.Bedrock.Region == "" {
			return fmt.Errorf("endpoint %s: Bedrock region is required", ep.Name)
		}
	default:
		if ep.BaseAddress == "" {
			return fmt.Errorf("endpoint %s: base_address is required", ep.Name)
		}
	}

	return nil
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	validation := c.Security.RequestValidation
	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		IdleTimeout:    c.Server.IdleTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		Security:       c.ToSecurityMiddlewareConfig(),
		CORS:           c.Security.CORS,
		Validation:     &validation,
	}
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	rateLimit := c.Security.RateLimiting
	return &middleware.SecurityMiddlewareConfig{
		RateLimit: &rateLimit,
		Guard:     c.Security.Guard,
	}
}

// ToMonitorConfig converts to health.MonitorConfig
func (c *Config) ToMonitorConfig() health.MonitorConfig {
	return health.MonitorConfig{
		Interval:     c.Router.HealthCheckInterval,
		ProbeTimeout: c.Router.ProbeTimeout,
	}
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// EndpointKinds returns each configured service kind once, in first-seen order
func (c *Config) EndpointKinds() []types.ServiceKind {
	var kinds []types.ServiceKind
	seen := make(map[types.ServiceKind]bool)

	for _, ep := range c.Endpoints {
		if !seen[ep.Kind] {
			seen[ep.Kind] = true
			kinds = append(kinds, ep.Kind)
		}
	}

	return kinds
}

// GetEnabledProviders returns a list of hosted providers with credentials
func (c *Config) GetEnabledProviders() []string {
	var providers []string

	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		providers = append(providers, "openai")
	}

	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		providers = append(providers, "anthropic")
	}

	if c.Providers.Bedrock != nil && c.Providers.Bedrock.Region != "" {
		providers = append(providers, "bedrock")
	}

	return providers
}
