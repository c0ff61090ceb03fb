package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/types"
)

const defaultModel = openai.GPT4oMini

// OpenAIAdapter executes generation requests through the OpenAI chat API
type OpenAIAdapter struct {
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	OrgID   string        `yaml:"org_id"`
	Timeout time.Duration `yaml:"timeout"`
}

var (
	_ providers.Adapter           = (*OpenAIAdapter)(nil)
	_ providers.CredentialChecker = (*OpenAIAdapter)(nil)
)

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config *OpenAIConfig, logger *logrus.Logger) *OpenAIAdapter {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// Name returns the adapter name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Execute sends the payload as a chat completion
func (a *OpenAIAdapter) Execute(ctx context.Context, endpoint types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
	payload, err := providers.ParseChatPayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     providers.ResolveModel(payload, endpoint, defaultModel),
		MaxTokens: payload.MaxTokens,
	}
	if payload.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: payload.System,
		})
	}
	for _, msg := range payload.Messages {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	a.logger.WithFields(logrus.Fields{
		"service":      endpoint.Name,
		"model":        resp.Model,
		"total_tokens": resp.Usage.TotalTokens,
	}).Debug("OpenAI completion finished")

	return &providers.Result{
		Output: map[string]interface{}{
			"id":            resp.ID,
			"model":         resp.Model,
			"content":       resp.Choices[0].Message.Content,
			"finish_reason": string(resp.Choices[0].FinishReason),
			"usage": map[string]int{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		},
	}, nil
}

// CheckCredentials reports whether an API key is configured
func (a *OpenAIAdapter) CheckCredentials(ctx context.Context) error {
	if a.config.APIKey == "" {
		return fmt.Errorf("openai api key is not configured")
	}
	return nil
}
