// Package memory provides an in-memory backlog store, safe for concurrent
// use. Intended for unit testing and local development; it applies the same
// eligibility and ordering rules as the Postgres store but provides no
// cross-process locking; a single process has no concurrent claimants to
// skip.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
	"github.com/IvanSScrobot/ardent-ms-call-retell/partition"
)

// Compile-time check that Store implements backlog.Store.
var _ backlog.Store = (*Store)(nil)

// Store is a fully in-memory backlog.
type Store struct {
	mu     sync.Mutex
	tasks  map[int64]*backlog.Task
	nextID int64
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{tasks: make(map[int64]*backlog.Task), nextID: 1}
}

// Enqueue adds a task, assigning an id and defaulting the partition key.
func (s *Store) Enqueue(_ context.Context, t *backlog.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ardent.ErrStoreClosed
	}

	t.ID = s.nextID
	s.nextID++
	if t.PartitionKey == 0 {
		t.PartitionKey = t.ID
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// ClaimNext returns the highest-urgency, most recently enqueued eligible
// task owned by partition (index, total) and not in excluded.
func (s *Store) ClaimNext(_ context.Context, index, total int, excluded []int64) (*backlog.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ardent.ErrStoreClosed
	}

	skip := make(map[int64]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	var eligible []*backlog.Task
	for _, t := range s.tasks {
		if t.CompletedAt != nil || t.FailedAt != nil || t.DispatchedAt != nil {
			continue
		}
		if skip[t.ID] || !partition.Assigned(t.PartitionKey, index, total) {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Urgency != eligible[j].Urgency {
			return eligible[i].Urgency > eligible[j].Urgency
		}
		return eligible[i].EnqueuedAt.After(eligible[j].EnqueuedAt)
	})

	cp := *eligible[0]
	return &cp, nil
}

// MarkDispatched records call acceptance. Idempotent.
func (s *Store) MarkDispatched(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.DispatchedAt != nil || t.CompletedAt != nil || t.FailedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	t.DispatchedAt = &now
	return nil
}

// MarkCompleted terminally records success. Idempotent.
func (s *Store) MarkCompleted(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.CompletedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	return nil
}

// MarkFailed terminally records a permanent failure. Idempotent.
func (s *Store) MarkFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.FailedAt != nil || t.CompletedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	t.FailedAt = &now
	t.LastError = reason
	return nil
}

// Release clears the dispatched flag on a dispatched-pending task.
func (s *Store) Release(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || !t.Pending() {
		return nil
	}
	t.DispatchedAt = nil
	return nil
}

// Get retrieves a copy of a task by id.
func (s *Store) Get(_ context.Context, id int64) (*backlog.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ardent.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// Ping always succeeds unless the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ardent.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
