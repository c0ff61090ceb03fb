package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/types"
)

const defaultModel = "claude-3-5-haiku-latest"

// AnthropicAdapter executes generation requests through the Messages API
type AnthropicAdapter struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

var (
	_ providers.Adapter           = (*AnthropicAdapter)(nil)
	_ providers.CredentialChecker = (*AnthropicAdapter)(nil)
)

// NewAnthropicAdapter creates a new Anthropic adapter
func NewAnthropicAdapter(config *AnthropicConfig, logger *logrus.Logger) *AnthropicAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		// retries are the caller's decision
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicAdapter{
		client: &client,
		config: config,
		logger: logger,
	}
}

// Name returns the adapter name
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Execute sends the payload as a Messages API call
func (a *AnthropicAdapter) Execute(ctx context.Context, endpoint types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
	payload, err := providers.ParseChatPayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(providers.ResolveModel(payload, endpoint, defaultModel)),
		MaxTokens: int64(payload.MaxTokens),
	}
	if payload.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: payload.System}}
	}
	for _, msg := range payload.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"service":       endpoint.Name,
		"model":         resp.Model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("Anthropic message finished")

	return &providers.Result{
		Output: map[string]interface{}{
			"id":          resp.ID,
			"model":       string(resp.Model),
			"content":     text.String(),
			"stop_reason": string(resp.StopReason),
			"usage": map[string]int64{
				"input_tokens":  resp.Usage.InputTokens,
				"output_tokens": resp.Usage.OutputTokens,
			},
		},
	}, nil
}

// CheckCredentials reports whether an API key is configured
func (a *AnthropicAdapter) CheckCredentials(ctx context.Context) error {
	if a.config.APIKey == "" {
		return fmt.Errorf("anthropic api key is not configured")
	}
	return nil
}
