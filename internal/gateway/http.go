package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"

	"github.com/taskweave/taskweave/internal/workflow"
)

// invokeRequest is the wire format sent to an agent endpoint.
type invokeRequest struct {
	TaskKind string         `json:"task_kind"`
	Input    map[string]any `json:"input"`
}

// invokeResponse is the wire format returned by an agent endpoint.
type invokeResponse struct {
	Result map[string]any `json:"result"`
	Error  string         `json:"error,omitempty"`
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Endpoints map[string]string // Agent name -> invoke URL
	Timeout   time.Duration     // Per-call timeout (default 60s)
}

// HTTPGateway is the production Invoker. Each agent name maps to an HTTP
// endpoint; a task invocation is a single POST carrying the resolved input.
type HTTPGateway struct {
	endpoints map[string]string
	client    *resty.Client
	logger    *log.Logger
}

// NewHTTPGateway creates a gateway over the given agent endpoint map.
func NewHTTPGateway(cfg HTTPConfig, logger *log.Logger) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		// The resilience layer owns retry policy; resty must not add its own.
		SetRetryCount(0)

	return &HTTPGateway{
		endpoints: cfg.Endpoints,
		client:    client,
		logger:    logger.With("component", "gateway"),
	}
}

// Invoke sends the task to the agent's endpoint and returns its result.
// Transport failures and non-2xx statuses come back as *InvocationError;
// an agent name with no endpoint comes back as *UnknownAgentError.
func (g *HTTPGateway) Invoke(ctx context.Context, agent string, kind workflow.Kind, input map[string]any) (map[string]any, error) {
	endpoint, ok := g.endpoints[agent]
	if !ok {
		return nil, &UnknownAgentError{Agent: agent}
	}

	var out invokeResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(invokeRequest{TaskKind: string(kind), Input: input}).
		SetResult(&out).
		Post(endpoint)
	if err != nil {
		return nil, &InvocationError{Agent: agent, Err: err}
	}

	if resp.IsError() {
		return nil, &InvocationError{
			Agent:      agent,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("%s", resp.String()),
		}
	}

	if out.Error != "" {
		return nil, &InvocationError{
			Agent:      agent,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("agent reported error: %s", out.Error),
		}
	}

	g.logger.Debug("agent invoked", "agent", agent, "kind", kind, "status", resp.StatusCode())
	return out.Result, nil
}
