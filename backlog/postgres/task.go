package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
)

const taskColumns = `id, partition_key, subject, payload, urgency,
	enqueued_at, dispatched_at, completed_at, failed_at, last_error`

// Enqueue inserts a new task. A zero PartitionKey is backfilled with the
// generated id so partitioning defaults to the task's own identity.
func (s *Store) Enqueue(ctx context.Context, t *backlog.Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	payload := t.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO call_tasks (partition_key, subject, payload, urgency, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.PartitionKey, t.Subject, payload, int16(t.Urgency), t.EnqueuedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("backlog/postgres: enqueue task: %w", err)
	}

	if t.PartitionKey == 0 {
		t.PartitionKey = t.ID
		if _, err := s.pool.Exec(ctx,
			`UPDATE call_tasks SET partition_key = id WHERE id = $1`, t.ID,
		); err != nil {
			return fmt.Errorf("backlog/postgres: default partition key: %w", err)
		}
	}
	return nil
}

// ClaimNext claims the single next eligible task for partition
// (index, total). The row lock is held only inside this transaction, which
// commits immediately after the read: the lock is a momentary claim signal
// so overlapping claimants skip each other, not a held resource.
func (s *Store) ClaimNext(ctx context.Context, index, total int, excluded []int64) (*backlog.Task, error) {
	if excluded == nil {
		excluded = []int64{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM call_tasks
		WHERE completed_at IS NULL
		  AND failed_at IS NULL
		  AND dispatched_at IS NULL
		  AND ((partition_key % $1) + $1) % $1 = $2
		  AND NOT (id = ANY($3))
		ORDER BY urgency DESC, enqueued_at DESC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
		int64(total), int64(index-1), excluded,
	)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Empty result is not an error: nothing eligible this cycle.
			return nil, nil
		}
		return nil, fmt.Errorf("backlog/postgres: claim next: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		// Treated by the caller as "nothing claimed this cycle".
		return nil, fmt.Errorf("backlog/postgres: commit claim: %w", err)
	}
	return t, nil
}

// MarkDispatched records call acceptance. No-op if already dispatched or
// terminal.
func (s *Store) MarkDispatched(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_tasks
		SET dispatched_at = NOW()
		WHERE id = $1 AND dispatched_at IS NULL
		  AND completed_at IS NULL AND failed_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: mark dispatched: %w", err)
	}
	return nil
}

// MarkCompleted terminally records success. No-op if already completed.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_tasks
		SET completed_at = NOW()
		WHERE id = $1 AND completed_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: mark completed: %w", err)
	}
	return nil
}

// MarkFailed terminally records a permanent failure, keeping the reason.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_tasks
		SET failed_at = NOW(), last_error = $2
		WHERE id = $1 AND failed_at IS NULL AND completed_at IS NULL`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: mark failed: %w", err)
	}
	return nil
}

// Release clears the dispatched flag after a staleness eviction so the
// task becomes claimable again. Terminal tasks are left untouched.
func (s *Store) Release(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE call_tasks
		SET dispatched_at = NULL
		WHERE id = $1 AND completed_at IS NULL AND failed_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: release task: %w", err)
	}
	return nil
}

// Get retrieves a task by id.
func (s *Store) Get(ctx context.Context, id int64) (*backlog.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM call_tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ardent.ErrTaskNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get task: %w", err)
	}
	return t, nil
}

// scanTask scans a single task row.
func scanTask(row pgx.Row) (*backlog.Task, error) {
	var (
		t       backlog.Task
		urgency int16
	)
	err := row.Scan(
		&t.ID, &t.PartitionKey, &t.Subject, &t.Payload, &urgency,
		&t.EnqueuedAt, &t.DispatchedAt, &t.CompletedAt, &t.FailedAt, &t.LastError,
	)
	if err != nil {
		return nil, err
	}
	t.Urgency = backlog.Urgency(urgency)
	return &t, nil
}
