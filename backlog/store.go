package backlog

import "context"

// Store is the persistence contract for the call backlog.
type Store interface {
	// Enqueue adds a new task. A zero PartitionKey defaults to the
	// assigned ID.
	Enqueue(ctx context.Context, t *Task) error

	// ClaimNext claims the single next eligible task for the partition
	// (index, total): not completed, not failed, not dispatched-pending,
	// owned by the partition, and not in excluded. Rows locked by a
	// concurrent claimant are skipped, and the claim lock is released as
	// soon as the row is read: it is a momentary claim signal, not a
	// held resource. Returns (nil, nil) when nothing is eligible; a
	// claim-transaction failure also surfaces as an error the caller
	// treats as "nothing claimed this cycle".
	ClaimNext(ctx context.Context, index, total int, excluded []int64) (*Task, error)

	// MarkDispatched records that a call was accepted for the task.
	// Idempotent: marking an already-dispatched task is a no-op.
	MarkDispatched(ctx context.Context, id int64) error

	// MarkCompleted terminally records a successful outcome. Idempotent.
	MarkCompleted(ctx context.Context, id int64) error

	// MarkFailed terminally records a permanent failure. Idempotent.
	MarkFailed(ctx context.Context, id int64, reason string) error

	// Release clears the dispatched flag so a task whose completion
	// signal never arrived becomes claimable again. No-op on tasks that
	// were never dispatched or are already terminal.
	Release(ctx context.Context, id int64) error

	// Get retrieves a task by id.
	Get(ctx context.Context, id int64) (*Task, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
