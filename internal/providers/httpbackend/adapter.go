package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/security"
	"github.com/tributary-ai/request-router/internal/types"
)

const (
	// DefaultExecutePath is appended to the base address when the endpoint sets none
	DefaultExecutePath = "/execute"

	// CostHeader lets a backend report the actual cost of a call
	CostHeader = "X-Request-Cost"

	maxErrorBody = 4 << 10
)

// Adapter dispatches requests to self-hosted backends that accept a JSON
// envelope over HTTP: orchestration engines, workflow tools, decision
// graphs, agent crews and fast inference servers.
type Adapter struct {
	client *http.Client
	signer *security.ServiceTokenSigner
	logger *logrus.Logger
}

// Envelope is the body posted to a backend
type Envelope struct {
	RequestID string                 `json:"request_id"`
	Kind      types.TaskKind         `json:"kind"`
	Priority  types.Priority         `json:"priority"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Metadata  *types.RequestMetadata `json:"metadata,omitempty"`
}

var _ providers.Adapter = (*Adapter)(nil)

// New creates an HTTP backend adapter. A nil client uses http.DefaultClient;
// a nil signer sends unsigned requests.
func New(client *http.Client, signer *security.ServiceTokenSigner, logger *logrus.Logger) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{client: client, signer: signer, logger: logger}
}

// Name returns the adapter name
func (a *Adapter) Name() string {
	return "http"
}

// Execute posts the request envelope and decodes the JSON response
func (a *Adapter) Execute(ctx context.Context, endpoint types.ServiceEndpoint, req *types.RoutingRequest) (*providers.Result, error) {
	body, err := json.Marshal(Envelope{
		RequestID: req.ID,
		Kind:      req.Kind,
		Priority:  req.Priority,
		Payload:   req.Payload,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := executeURL(endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID)

	if a.signer != nil {
		token, err := a.signer.Sign(endpoint.Name, req.ID, string(req.Kind))
		if err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("backend %s returned %d: %s", endpoint.Name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var output interface{}
	if resp.ContentLength != 0 {
		if err := json.NewDecoder(resp.Body).Decode(&output); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint.Name, err)
		}
	}

	result := &providers.Result{Output: output}
	if raw := resp.Header.Get(CostHeader); raw != "" {
		if cost, err := strconv.ParseFloat(raw, 64); err == nil && cost >= 0 {
			result.Cost = cost
		} else {
			a.logger.WithFields(logrus.Fields{
				"service": endpoint.Name,
				"value":   raw,
			}).Warn("Ignoring malformed cost header")
		}
	}

	return result, nil
}

func executeURL(endpoint types.ServiceEndpoint) string {
	path := endpoint.ExecutePath
	if path == "" {
		path = DefaultExecutePath
	}
	return strings.TrimRight(endpoint.BaseAddress, "/") + "/" + strings.TrimLeft(path, "/")
}
