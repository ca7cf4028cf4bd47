package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog/memory"
)

func enqueue(t *testing.T, s *memory.Store, task backlog.Task) int64 {
	t.Helper()
	if err := s.Enqueue(context.Background(), &task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return task.ID
}

func TestClaimNext_OrdersByUrgencyThenRecency(t *testing.T) {
	s := memory.New()
	base := time.Now().UTC()

	enqueue(t, s, backlog.Task{PartitionKey: 1, Urgency: backlog.UrgencyNormal, EnqueuedAt: base})
	wantID := enqueue(t, s, backlog.Task{PartitionKey: 1, Urgency: backlog.UrgencyHigh, EnqueuedAt: base.Add(-time.Hour)})
	enqueue(t, s, backlog.Task{PartitionKey: 1, Urgency: backlog.UrgencyNormal, EnqueuedAt: base.Add(time.Minute)})

	got, err := s.ClaimNext(context.Background(), 1, 1, nil)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID != wantID {
		t.Fatalf("claimed %+v, want the high-urgency task %d", got, wantID)
	}
}

func TestClaimNext_WithinTierMostRecentFirst(t *testing.T) {
	s := memory.New()
	base := time.Now().UTC()

	enqueue(t, s, backlog.Task{PartitionKey: 1, Urgency: backlog.UrgencyNormal, EnqueuedAt: base})
	wantID := enqueue(t, s, backlog.Task{PartitionKey: 1, Urgency: backlog.UrgencyNormal, EnqueuedAt: base.Add(time.Minute)})

	got, err := s.ClaimNext(context.Background(), 1, 1, nil)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID != wantID {
		t.Fatalf("claimed %+v, want the most recent task %d", got, wantID)
	}
}

func TestClaimNext_RespectsPartitionOwnership(t *testing.T) {
	s := memory.New()
	// Partition keys 1..6 over total=3: worker index 2 owns keys where
	// key mod 3 == 1, i.e. 1 and 4.
	for k := int64(1); k <= 6; k++ {
		enqueue(t, s, backlog.Task{PartitionKey: k})
	}

	seen := map[int64]bool{}
	for {
		task, err := s.ClaimNext(context.Background(), 2, 3, nil)
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if task == nil {
			break
		}
		seen[task.PartitionKey] = true
		if err := s.MarkDispatched(context.Background(), task.ID); err != nil {
			t.Fatalf("MarkDispatched: %v", err)
		}
	}

	if len(seen) != 2 || !seen[1] || !seen[4] {
		t.Errorf("partition 2/3 claimed keys %v, want exactly {1, 4}", seen)
	}
}

func TestClaimNext_HonorsExclusionSet(t *testing.T) {
	s := memory.New()
	id1 := enqueue(t, s, backlog.Task{PartitionKey: 1, EnqueuedAt: time.Now().Add(time.Minute)})
	id2 := enqueue(t, s, backlog.Task{PartitionKey: 1})

	got, err := s.ClaimNext(context.Background(), 1, 1, []int64{id1})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got == nil || got.ID != id2 {
		t.Fatalf("claimed %+v, want task %d (id %d excluded)", got, id2, id1)
	}
}

func TestClaimNext_SkipsDispatchedAndTerminalTasks(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	dispatched := enqueue(t, s, backlog.Task{PartitionKey: 1})
	completed := enqueue(t, s, backlog.Task{PartitionKey: 1})
	failed := enqueue(t, s, backlog.Task{PartitionKey: 1})

	_ = s.MarkDispatched(ctx, dispatched)
	_ = s.MarkCompleted(ctx, completed)
	_ = s.MarkFailed(ctx, failed, "number unreachable")

	got, err := s.ClaimNext(ctx, 1, 1, nil)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed %+v, want nothing eligible", got)
	}

	// Empty result is not an error, and Release restores eligibility.
	if err := s.Release(ctx, dispatched); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err = s.ClaimNext(ctx, 1, 1, nil)
	if err != nil {
		t.Fatalf("ClaimNext after release: %v", err)
	}
	if got == nil || got.ID != dispatched {
		t.Fatalf("claimed %+v, want released task %d", got, dispatched)
	}
}

func TestMarks_AreIdempotentAndTerminalWins(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	id := enqueue(t, s, backlog.Task{PartitionKey: 1})

	if err := s.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := s.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}
	// A late failure mark must not overwrite the completed outcome.
	if err := s.MarkFailed(ctx, id, "late"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.CompletedAt == nil || task.FailedAt != nil {
		t.Errorf("task = %+v, want completed and not failed", task)
	}

	// Release on a terminal task is a no-op.
	_ = s.MarkDispatched(ctx, id)
	if err := s.Release(ctx, id); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestEnqueue_DefaultsPartitionKeyToID(t *testing.T) {
	s := memory.New()
	task := backlog.Task{}
	if err := s.Enqueue(context.Background(), &task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.PartitionKey != task.ID {
		t.Errorf("PartitionKey = %d, want %d (defaults to id)", task.PartitionKey, task.ID)
	}
}
