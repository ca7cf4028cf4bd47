// Package signal ingests out-of-band call completion events and resolves
// them against the correlation tracker and the durable backlog.
//
// Completion delivery is unreliable: events may arrive late, twice, or
// never. Every path here is therefore idempotent: resolving an unknown
// call is a no-op, and the durable marks are no-ops when already set. This
// path (not the dispatcher) owns the durable write-back of outcomes.
package signal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IvanSScrobot/ardent-ms-call-retell/crm"
	"github.com/IvanSScrobot/ardent-ms-call-retell/metrics"
	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
	"github.com/IvanSScrobot/ardent-ms-call-retell/track"
)

// Completion is one call outcome event. Either CallRef or TaskID
// identifies the call; events from Retell carry the call id, internal
// re-drives may carry the task id directly.
type Completion struct {
	CallRef  string            `json:"call_ref"`
	TaskID   int64             `json:"task_id,omitempty"`
	Outcome  string            `json:"outcome"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Recognized outcomes. Anything else is recorded as completed with the
// outcome kept in the lead metadata.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// OutcomeStore is the slice of the backlog store the completion path needs.
type OutcomeStore interface {
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// LeadCreator pushes a completed call into the CRM.
type LeadCreator interface {
	CreateLead(ctx context.Context, lead crm.Lead) error
}

// Handler resolves completion events.
type Handler struct {
	tracker *track.Tracker
	store   OutcomeStore
	leads   LeadCreator // nil disables lead creation
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metrics.Set
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLeadCreator enables CRM lead creation on completed calls.
func WithLeadCreator(lc LeadCreator) HandlerOption {
	return func(h *Handler) { h.leads = lc }
}

// WithRetryPolicy sets the policy for the durable write-back and the CRM
// call.
func WithRetryPolicy(p retry.Policy) HandlerOption {
	return func(h *Handler) { h.policy = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics sets the collector set.
func WithMetrics(m *metrics.Set) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a completion handler.
func NewHandler(tracker *track.Tracker, store OutcomeStore, opts ...HandlerOption) *Handler {
	h := &Handler{
		tracker: tracker,
		store:   store,
		policy:  retry.Policy{MaxAttempts: 3},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle resolves one completion event: drop the correlation entry, write
// the durable outcome, and (for completed calls) create the CRM lead.
// Events for unknown calls are dropped silently; the sweep may already
// have evicted the entry.
func (h *Handler) Handle(ctx context.Context, c Completion) error {
	entry, ok := h.resolve(c)
	if !ok {
		h.logger.Debug("completion for unknown call",
			slog.String("call_ref", c.CallRef),
			slog.Int64("task_id", c.TaskID),
		)
		return nil
	}
	if h.metrics != nil {
		h.metrics.CallsInFlight.Set(float64(h.tracker.Len()))
		h.metrics.CompletionsTotal.WithLabelValues(c.Outcome).Inc()
	}

	if err := h.writeOutcome(ctx, entry.TaskID, c); err != nil {
		return err
	}

	if c.Outcome != OutcomeFailed && h.leads != nil {
		lead := crm.Lead{
			TaskID:   entry.TaskID,
			CallRef:  entry.CallRef,
			Subject:  entry.Subject,
			Outcome:  c.Outcome,
			Metadata: c.Metadata,
		}
		_, err := retry.Do(ctx, h.policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.leads.CreateLead(ctx, lead)
		})
		if err != nil {
			// The outcome is durably recorded; a lost lead is logged,
			// not retried forever.
			h.logger.Error("lead creation failed",
				slog.Int64("task_id", entry.TaskID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("call resolved",
		slog.Int64("task_id", entry.TaskID),
		slog.String("call_ref", entry.CallRef),
		slog.String("outcome", c.Outcome),
	)
	return nil
}

// resolve drops the tracker entry by task id or call ref.
func (h *Handler) resolve(c Completion) (track.Entry, bool) {
	if c.TaskID != 0 {
		return h.tracker.Resolve(c.TaskID)
	}
	if c.CallRef != "" {
		return h.tracker.ResolveRef(c.CallRef)
	}
	return track.Entry{}, false
}

// writeOutcome records the durable terminal state through the shared retry
// executor.
func (h *Handler) writeOutcome(ctx context.Context, taskID int64, c Completion) error {
	_, err := retry.Do(ctx, h.policy, func(ctx context.Context) (struct{}, error) {
		if c.Outcome == OutcomeFailed {
			return struct{}{}, h.store.MarkFailed(ctx, taskID, reason(c))
		}
		return struct{}{}, h.store.MarkCompleted(ctx, taskID)
	})
	if err != nil {
		return fmt.Errorf("signal: write outcome for task %d: %w", taskID, err)
	}
	return nil
}

func reason(c Completion) string {
	if r := c.Metadata["reason"]; r != "" {
		return r
	}
	return "call failed"
}
