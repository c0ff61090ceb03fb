package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tributary-ai/request-router/internal/types"
)

// Adapter executes a request against one family of backends. Adapters are
// registered per service kind and must be safe for concurrent use.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, endpoint types.ServiceEndpoint, req *types.RoutingRequest) (*Result, error)
}

// CredentialChecker is implemented by adapters for hosted APIs, which are
// probed by checking that a usable credential is configured
type CredentialChecker interface {
	CheckCredentials(ctx context.Context) error
}

// Result is what a backend returned for a request
type Result struct {
	Output interface{}
	// Cost reported by the backend; zero means use the endpoint's configured cost
	Cost float64
}

// ChatMessage is one turn of a conversational payload
type ChatMessage struct {
	Role    string
	Content string
}

// ChatPayload is the normalized shape LLM adapters read from a request payload.
// The payload may carry either a "prompt" string or a "messages" list.
type ChatPayload struct {
	System    string
	Messages  []ChatMessage
	Model     string
	MaxTokens int
}

// DefaultMaxTokens is used when the payload does not set max_tokens
const DefaultMaxTokens = 1024

// ParseChatPayload extracts a chat conversation from an opaque payload
func ParseChatPayload(payload map[string]interface{}) (*ChatPayload, error) {
	out := &ChatPayload{MaxTokens: DefaultMaxTokens}

	if s, ok := payload["system"].(string); ok {
		out.System = s
	}
	if m, ok := payload["model"].(string); ok {
		out.Model = m
	}
	switch v := payload["max_tokens"].(type) {
	case float64:
		out.MaxTokens = int(v)
	case int:
		out.MaxTokens = v
	case int64:
		out.MaxTokens = int(v)
	}
	if out.MaxTokens <= 0 {
		return nil, fmt.Errorf("max_tokens must be positive")
	}

	if raw, ok := payload["messages"].([]interface{}); ok {
		for i, item := range raw {
			msg, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("messages[%d] must be an object", i)
			}
			role, _ := msg["role"].(string)
			content, _ := msg["content"].(string)
			if role == "" {
				role = "user"
			}
			if role == "system" {
				out.System = content
				continue
			}
			out.Messages = append(out.Messages, ChatMessage{Role: role, Content: content})
		}
	}

	if prompt, ok := payload["prompt"].(string); ok && strings.TrimSpace(prompt) != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: "user", Content: prompt})
	}

	if len(out.Messages) == 0 {
		return nil, fmt.Errorf("payload must contain a prompt or messages")
	}
	return out, nil
}

// ResolveModel picks the payload model, then the endpoint model, then the fallback
func ResolveModel(payload *ChatPayload, endpoint types.ServiceEndpoint, fallback string) string {
	if payload.Model != "" {
		return payload.Model
	}
	if endpoint.Model != "" {
		return endpoint.Model
	}
	return fallback
}
