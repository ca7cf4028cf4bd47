// Package retell is the Retell AI implementation of the call gateway. It
// creates phone calls through the v2 REST API and throttles call creation
// with a token bucket so a large backlog cannot flood the provider.
package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
	"github.com/IvanSScrobot/ardent-ms-call-retell/gateway"
	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
)

// Compile-time check that Client implements gateway.Gateway.
var _ gateway.Gateway = (*Client)(nil)

const createCallPath = "/v2/create-phone-call"

// Client submits outbound calls to Retell.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	fromNumber string
	agentID    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (and with it all request
// timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit throttles call creation to limit calls per second with the
// given burst. A non-positive limit disables throttling.
func WithRateLimit(limit float64, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Retell gateway client.
func New(baseURL, apiKey, fromNumber, agentID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		fromNumber: fromNumber,
		agentID:    agentID,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// createCallRequest is the create-phone-call payload. The task payload is
// passed through as dynamic variables for the voice agent.
type createCallRequest struct {
	FromNumber  string          `json:"from_number"`
	ToNumber    string          `json:"to_number"`
	AgentID     string          `json:"override_agent_id,omitempty"`
	DynamicVars json.RawMessage `json:"retell_llm_dynamic_variables,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

type createCallResponse struct {
	CallID string `json:"call_id"`
}

// Submit creates the phone call and returns Retell's call id. HTTP 408/429
// and 5xx responses (and transport errors) surface as transient; other 4xx
// responses are wrapped permanent since re-sending the same request cannot
// succeed.
func (c *Client) Submit(ctx context.Context, task *backlog.Task) (gateway.CallRef, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("retell: rate limiter: %w", err)
		}
	}

	reqBody := createCallRequest{
		FromNumber:  c.fromNumber,
		ToNumber:    task.Subject,
		AgentID:     c.agentID,
		DynamicVars: json.RawMessage(task.Payload),
		Metadata:    map[string]any{"task_id": task.ID},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", retry.MarkPermanent(fmt.Errorf("retell: encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createCallPath, bytes.NewReader(body))
	if err != nil {
		return "", retry.MarkPermanent(fmt.Errorf("retell: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("retell: create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // body snippet is best effort
		err := fmt.Errorf("retell: create call status %d: %s", resp.StatusCode, snippet)
		if permanentStatus(resp.StatusCode) {
			return "", retry.MarkPermanent(err)
		}
		return "", err
	}

	var out createCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("retell: decode response: %w", err)
	}
	if out.CallID == "" {
		return "", fmt.Errorf("retell: response missing call_id")
	}

	c.logger.Debug("call created",
		slog.Int64("task_id", task.ID),
		slog.String("call_id", out.CallID),
	)
	return gateway.CallRef(out.CallID), nil
}

// permanentStatus reports whether an HTTP status can never succeed on
// retry. 408 and 429 stay transient.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
