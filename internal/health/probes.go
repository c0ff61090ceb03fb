package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tributary-ai/request-router/internal/providers"
	"github.com/tributary-ai/request-router/internal/types"
)

// DefaultHealthPath is probed when an endpoint does not set one
const DefaultHealthPath = "/health"

// RateLimitHeader is read from probe responses when present
const RateLimitHeader = "X-RateLimit-Remaining"

// ProbeResult carries optional extra state observed by a successful probe
type ProbeResult struct {
	RateLimitRemaining *float64
}

// Prober checks whether a single endpoint is reachable and working.
// Implementations must honor the context deadline.
type Prober interface {
	Probe(ctx context.Context, endpoint types.ServiceEndpoint) (*ProbeResult, error)
}

// DefaultProbeFor returns the probe used for a kind when the endpoint does not override it
func DefaultProbeFor(kind types.ServiceKind) types.ProbeType {
	switch kind {
	case types.KindOpenAI, types.KindAnthropic, types.KindBedrock:
		return types.ProbeCredential
	default:
		return types.ProbeHTTP
	}
}

// HTTPProber issues GET requests against the endpoint's health path
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates an HTTP prober. A nil client uses http.DefaultClient.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{client: client}
}

// Probe treats any 2xx response as healthy
func (p *HTTPProber) Probe(ctx context.Context, endpoint types.ServiceEndpoint) (*ProbeResult, error) {
	path := endpoint.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	url := strings.TrimRight(endpoint.BaseAddress, "/") + "/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}

	result := &ProbeResult{}
	if raw := resp.Header.Get(RateLimitHeader); raw != "" {
		if remaining, err := strconv.ParseFloat(raw, 64); err == nil {
			result.RateLimitRemaining = &remaining
		}
	}
	return result, nil
}

// GRPCProber calls the standard grpc.health.v1 Check method
type GRPCProber struct {
	dialOptions []grpc.DialOption
}

// NewGRPCProber creates a gRPC prober using plaintext transport unless
// dial options are supplied
func NewGRPCProber(opts ...grpc.DialOption) *GRPCProber {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCProber{dialOptions: opts}
}

// Probe reports healthy only for SERVING
func (p *GRPCProber) Probe(ctx context.Context, endpoint types.ServiceEndpoint) (*ProbeResult, error) {
	target := strings.TrimPrefix(endpoint.BaseAddress, "grpc://")

	conn, err := grpc.NewClient(target, p.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return nil, err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return nil, fmt.Errorf("grpc health status %s", resp.GetStatus())
	}
	return &ProbeResult{}, nil
}

// CredentialProber checks that a hosted API kind has a usable credential
type CredentialProber struct {
	checkers map[types.ServiceKind]providers.CredentialChecker
}

// NewCredentialProber creates a prober backed by per-kind credential checkers
func NewCredentialProber(checkers map[types.ServiceKind]providers.CredentialChecker) *CredentialProber {
	if checkers == nil {
		checkers = make(map[types.ServiceKind]providers.CredentialChecker)
	}
	return &CredentialProber{checkers: checkers}
}

// Probe fails when no checker is registered for the kind
func (p *CredentialProber) Probe(ctx context.Context, endpoint types.ServiceEndpoint) (*ProbeResult, error) {
	checker, ok := p.checkers[endpoint.Kind]
	if !ok {
		return nil, fmt.Errorf("no credential source for kind %s", endpoint.Kind)
	}
	if err := checker.CheckCredentials(ctx); err != nil {
		return nil, err
	}
	return &ProbeResult{}, nil
}
