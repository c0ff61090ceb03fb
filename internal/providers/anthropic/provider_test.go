package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/types"
)

func createTestAdapter(t *testing.T, baseURL, apiKey string) *AnthropicAdapter {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewAnthropicAdapter(&AnthropicConfig{APIKey: apiKey, BaseURL: baseURL}, logger)
}

func TestAnthropicAdapter_Name(t *testing.T) {
	if name := createTestAdapter(t, "", "key").Name(); name != "anthropic" {
		t.Errorf("Expected adapter name 'anthropic', got %s", name)
	}
}

func TestAnthropicAdapter_CheckCredentials(t *testing.T) {
	if err := createTestAdapter(t, "", "key").CheckCredentials(context.Background()); err != nil {
		t.Errorf("expected credentials to be accepted, got %v", err)
	}
	if err := createTestAdapter(t, "", "").CheckCredentials(context.Background()); err == nil {
		t.Error("expected missing api key to fail")
	}
}

func TestAnthropicAdapter_Execute(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "hello"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 1}
		}`))
	}))
	defer srv.Close()

	adapter := createTestAdapter(t, srv.URL, "key")
	req := &types.RoutingRequest{
		ID:   "r1",
		Kind: types.TaskGeneration,
		Payload: map[string]interface{}{
			"messages": []interface{}{
				map[string]interface{}{"role": "system", "content": "be brief"},
				map[string]interface{}{"role": "user", "content": "hi"},
			},
			"max_tokens": float64(64),
		},
	}

	result, err := adapter.Execute(context.Background(), types.ServiceEndpoint{Name: "claude", Kind: types.KindAnthropic}, req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	output := result.Output.(map[string]interface{})
	if output["content"] != "hello" {
		t.Errorf("expected content 'hello', got %v", output["content"])
	}
	if got["model"] != defaultModel {
		t.Errorf("expected default model, got %v", got["model"])
	}
	if got["max_tokens"] != float64(64) {
		t.Errorf("expected max_tokens 64, got %v", got["max_tokens"])
	}
	if _, ok := got["system"]; !ok {
		t.Error("expected system prompt to be sent")
	}
}

func TestAnthropicAdapter_ExecuteSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "bad"}}`))
	}))
	defer srv.Close()

	adapter := createTestAdapter(t, srv.URL, "key")
	_, err := adapter.Execute(context.Background(), types.ServiceEndpoint{Name: "claude"},
		&types.RoutingRequest{ID: "r1", Payload: map[string]interface{}{"prompt": "hi"}})
	if err == nil {
		t.Fatal("expected API error")
	}
}
