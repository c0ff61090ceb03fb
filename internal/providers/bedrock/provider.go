package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/types"
)

const (
	defaultRegion = "us-east-1"
	defaultModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
)

// BedrockAdapter executes generation requests through AWS Bedrock.
// Requests are signed with SigV4 using the default credential chain
// unless static keys are configured.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	awsCfg aws.Config
	config *BedrockConfig
	logger *logrus.Logger
}

// BedrockConfig holds Bedrock-specific configuration
type BedrockConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	// Endpoint overrides the regional endpoint, mainly for local testing
	Endpoint string `yaml:"endpoint"`
}

var (
	_ providers.Adapter           = (*BedrockAdapter)(nil)
	_ providers.CredentialChecker = (*BedrockAdapter)(nil)
)

// NewBedrockAdapter loads the AWS configuration and creates the runtime client
func NewBedrockAdapter(ctx context.Context, cfg *BedrockConfig, logger *logrus.Logger) (*BedrockAdapter, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.WithField("region", region).Info("Bedrock adapter initialized")

	return &BedrockAdapter{
		client: bedrockruntime.NewFromConfig(awsCfg, clientOpts...),
		awsCfg: awsCfg,
		config: cfg,
		logger: logger,
	}, nil
}

// Name returns the adapter name
func (a *BedrockAdapter) Name() string {
	return "bedrock"
}

// Execute invokes the resolved model with a family-specific request body
func (a *BedrockAdapter) Execute(ctx context.Context, endpoint types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
	payload, err := providers.ParseChatPayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	model := providers.ResolveModel(payload, endpoint, defaultModel)
	family := modelFamily(model)

	body, err := buildRequestBody(family, payload)
	if err != nil {
		return nil, err
	}
	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke %s: %w", model, err)
	}

	content, err := parseResponseBody(family, output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"service": endpoint.Name,
		"model":   model,
	}).Debug("Bedrock invocation finished")

	return &providers.Result{
		Output: map[string]interface{}{
			"model":   model,
			"content": content,
		},
	}, nil
}

// CheckCredentials resolves the AWS credential chain
func (a *BedrockAdapter) CheckCredentials(ctx context.Context) error {
	if a.awsCfg.Credentials == nil {
		return fmt.Errorf("no AWS credential provider configured")
	}
	if _, err := a.awsCfg.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("aws credentials unavailable: %w", err)
	}
	return nil
}

func modelFamily(model string) string {
	switch {
	case strings.HasPrefix(model, "anthropic."), strings.Contains(model, ".anthropic."):
		return "anthropic"
	case strings.HasPrefix(model, "amazon."):
		return "amazon"
	case strings.HasPrefix(model, "meta."), strings.Contains(model, ".meta."):
		return "meta"
	default:
		return "unknown"
	}
}

func buildRequestBody(family string, payload *providers.ChatPayload) (map[string]interface{}, error) {
	switch family {
	case "anthropic":
		messages := make([]map[string]string, 0, len(payload.Messages))
		for _, m := range payload.Messages {
			messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
		}
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        payload.MaxTokens,
			"messages":          messages,
		}
		if payload.System != "" {
			body["system"] = payload.System
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": flatten(payload),
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": payload.MaxTokens,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      flatten(payload),
			"max_gen_len": payload.MaxTokens,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family: %s", family)
	}
}

func parseResponseBody(family string, body []byte) (string, error) {
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	case "amazon":
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("no results in response")
		}
		return resp.Results[0].OutputText, nil
	case "meta":
		var resp struct {
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", err
		}
		return resp.Generation, nil
	}
	return "", fmt.Errorf("unsupported model family: %s", family)
}

// flatten renders a conversation as a single prompt for completion-style models
func flatten(payload *providers.ChatPayload) string {
	var sb strings.Builder
	if payload.System != "" {
		sb.WriteString(payload.System)
		sb.WriteString("\n\n")
	}
	for i, m := range payload.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}
