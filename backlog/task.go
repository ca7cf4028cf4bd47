package backlog

import "time"

// Urgency ranks tasks for claiming: higher tiers are always claimed before
// lower ones, and within a tier the most recently enqueued task wins.
type Urgency int16

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyHigh     Urgency = 2
	UrgencyCritical Urgency = 3
)

// Task is one pending outbound call in the shared backlog. The worker never
// mutates a task beyond the claim/dispatch/completion transitions the store
// exposes.
type Task struct {
	// ID is the task's integer identity in the backlog.
	ID int64

	// PartitionKey decides fleet ownership; it defaults to ID at enqueue
	// time so related tasks can be pinned to one worker when needed.
	PartitionKey int64

	// Subject is a short human-readable summary (typically the contact's
	// phone number) used in logs and correlation entries.
	Subject string

	// Payload is the opaque call context handed to the telephony gateway,
	// JSON-encoded by whoever enqueued the task.
	Payload []byte

	// Urgency is the claim-ordering tier.
	Urgency Urgency

	EnqueuedAt   time.Time
	DispatchedAt *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
	LastError    string
}

// Pending reports whether the task is dispatched but not yet terminally
// marked.
func (t *Task) Pending() bool {
	return t.DispatchedAt != nil && t.CompletedAt == nil && t.FailedAt == nil
}
