// Package agents provides AgentInvoker implementations: an HTTP client for
// a remote agent service and an offline echo agent.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

const defaultTimeout = 60 * time.Second

// HTTPInvoker calls POST {baseURL}/agents/{slug}/invoke with {"prompt": ...}.
type HTTPInvoker struct {
	client *resty.Client
}

// HTTPOption configures an HTTPInvoker.
type HTTPOption func(*resty.Client)

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(c *resty.Client) {
		if key != "" {
			c.SetAuthToken(key)
		}
	}
}

// WithTimeout bounds each request; the engine's call timeout still applies.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// NewHTTPInvoker creates an invoker for the agent service at baseURL.
func NewHTTPInvoker(baseURL string, opts ...HTTPOption) *HTTPInvoker {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return &HTTPInvoker{client: c}
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

type invokeResponse struct {
	Output json.RawMessage `json:"output"`
	Text   string          `json:"text"`
}

// Invoke returns the response's output when present, otherwise its text.
func (h *HTTPInvoker) Invoke(ctx context.Context, agentSlug, prompt string) (any, error) {
	var body invokeResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(invokeRequest{Prompt: prompt}).
		SetResult(&body).
		Post("/agents/" + url.PathEscape(agentSlug) + "/invoke")
	if err != nil {
		return nil, fmt.Errorf("invoke agent %q: %w", agentSlug, err)
	}
	if resp.IsError() {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent %q returned status %d: %s",
			agentSlug, resp.StatusCode(), truncate(resp.String(), 512)).
			WithDetails(map[string]any{"status_code": resp.StatusCode(), "agent": agentSlug})
	}

	if len(body.Output) > 0 && string(body.Output) != "null" {
		return expressions.Normalize(body.Output), nil
	}
	return body.Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// EchoInvoker answers every prompt locally. Useful for the CLI and demos.
type EchoInvoker struct{}

// Invoke returns {"agent": slug, "text": prompt}.
func (EchoInvoker) Invoke(_ context.Context, agentSlug, prompt string) (any, error) {
	return map[string]any{"agent": agentSlug, "text": prompt}, nil
}
