package track_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	ardent "github.com/IvanSScrobot/ardent-ms-call-retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/track"
)

func TestTrack_DuplicateIsRejectedWithoutSideEffects(t *testing.T) {
	tr := track.New()

	first := track.Entry{TaskID: 5, CallRef: "call-a", Subject: "+15550001"}
	if err := tr.Track(first); err != nil {
		t.Fatalf("first Track: %v", err)
	}

	err := tr.Track(track.Entry{TaskID: 5, CallRef: "call-b"})
	if !errors.Is(err, ardent.ErrAlreadyTracked) {
		t.Fatalf("second Track error = %v, want ErrAlreadyTracked", err)
	}

	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
	e, ok := tr.Resolve(5)
	if !ok {
		t.Fatal("Resolve(5) found nothing")
	}
	if e.CallRef != "call-a" {
		t.Errorf("kept entry CallRef = %q, want the original %q", e.CallRef, "call-a")
	}
}

func TestResolve_AbsentIsNoOp(t *testing.T) {
	tr := track.New()
	if _, ok := tr.Resolve(99); ok {
		t.Error("Resolve on empty tracker reported an entry")
	}
	// Resolving twice must also be harmless.
	_ = tr.Track(track.Entry{TaskID: 1, CallRef: "c1"})
	tr.Resolve(1)
	if _, ok := tr.Resolve(1); ok {
		t.Error("second Resolve reported an entry")
	}
}

func TestResolveRef_FindsByCallRef(t *testing.T) {
	tr := track.New()
	_ = tr.Track(track.Entry{TaskID: 7, CallRef: "call-7"})
	_ = tr.Track(track.Entry{TaskID: 8, CallRef: "call-8"})

	e, ok := tr.ResolveRef("call-8")
	if !ok || e.TaskID != 8 {
		t.Fatalf("ResolveRef = (%+v, %v), want task 8", e, ok)
	}
	if _, ok := tr.ResolveRef("call-8"); ok {
		t.Error("ResolveRef found an already-resolved entry")
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestSweep_EvictsOnlyEntriesPastMaxAge(t *testing.T) {
	tr := track.New()
	now := time.Now()

	ages := map[int64]time.Duration{
		1: 10 * time.Minute,
		2: 31 * time.Minute,
		3: 45 * time.Minute,
	}
	for id, age := range ages {
		err := tr.Track(track.Entry{TaskID: id, CallRef: "c", CreatedAt: now.Add(-age)})
		if err != nil {
			t.Fatalf("Track(%d): %v", id, err)
		}
	}

	evicted := tr.Sweep(30 * time.Minute)
	if len(evicted) != 2 {
		t.Fatalf("Sweep evicted %d entries, want 2", len(evicted))
	}
	got := map[int64]bool{}
	for _, e := range evicted {
		got[e.TaskID] = true
	}
	if !got[2] || !got[3] {
		t.Errorf("Sweep evicted %v, want tasks 2 and 3", got)
	}

	ids := tr.InFlightIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("InFlightIDs after sweep = %v, want [1]", ids)
	}
}

func TestInFlightIDs_SortedSnapshot(t *testing.T) {
	tr := track.New()
	for _, id := range []int64{42, 7, 19} {
		_ = tr.Track(track.Entry{TaskID: id})
	}
	ids := tr.InFlightIDs()
	want := []int64{7, 19, 42}
	if len(ids) != len(want) {
		t.Fatalf("InFlightIDs = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("InFlightIDs = %v, want %v", ids, want)
		}
	}
}

func TestTracker_ConcurrentTrackAndResolve(t *testing.T) {
	tr := track.New()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(2)
		id := int64(i)
		go func() {
			defer wg.Done()
			_ = tr.Track(track.Entry{TaskID: id, CallRef: "c"})
		}()
		go func() {
			defer wg.Done()
			tr.Resolve(id)
			tr.InFlightIDs()
		}()
	}
	wg.Wait()

	// Every id was tracked at most once; whatever remains must resolve.
	for _, id := range tr.InFlightIDs() {
		if _, ok := tr.Resolve(id); !ok {
			t.Errorf("leftover id %d did not resolve", id)
		}
	}
}
