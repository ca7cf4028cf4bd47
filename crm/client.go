// Package crm creates leads in the CRM when a call completes. It is a
// completion-path collaborator: the worker core never blocks a claim cycle
// on it.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
)

const leadsPath = "/api/v4/leads"

// Lead is the record created for a completed call.
type Lead struct {
	TaskID     int64             `json:"task_id"`
	CallRef    string            `json:"call_ref"`
	Subject    string            `json:"subject"`
	Outcome    string            `json:"outcome"`
	PipelineID string            `json:"pipeline_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Client talks to the CRM's lead API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pipelineID string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a CRM client.
func New(baseURL, apiKey, pipelineID string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		pipelineID: pipelineID,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateLead posts the lead. 4xx responses other than 408/429 are wrapped
// permanent for the shared retry executor.
func (c *Client) CreateLead(ctx context.Context, lead Lead) error {
	if lead.PipelineID == "" {
		lead.PipelineID = c.pipelineID
	}

	body, err := json.Marshal(lead)
	if err != nil {
		return retry.MarkPermanent(fmt.Errorf("crm: encode lead: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+leadsPath, bytes.NewReader(body))
	if err != nil {
		return retry.MarkPermanent(fmt.Errorf("crm: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: create lead: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // body snippet is best effort
		err := fmt.Errorf("crm: create lead status %d: %s", resp.StatusCode, snippet)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return retry.MarkPermanent(err)
		}
		return err
	}

	c.logger.Debug("lead created",
		slog.Int64("task_id", lead.TaskID),
		slog.String("call_ref", lead.CallRef),
	)
	return nil
}
