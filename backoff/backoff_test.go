package backoff_test

import (
	"testing"
	"time"

	"github.com/IvanSScrobot/ardent-ms-call-retell/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(10); got != 10*time.Second {
		t.Errorf("Delay(10) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestJittered_StaysWithinBounds(t *testing.T) {
	base := backoff.NewExponential(time.Second, time.Minute)
	j := backoff.NewJittered(base, 500*time.Millisecond)

	for attempt := 1; attempt <= 5; attempt++ {
		lo := base.Delay(attempt)
		hi := lo + 500*time.Millisecond
		for range 50 {
			got := j.Delay(attempt)
			if got < lo || got >= hi {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, got, lo, hi)
			}
		}
	}
}

func TestJittered_ZeroCeilingIsPassThrough(t *testing.T) {
	base := backoff.NewConstant(2 * time.Second)
	j := backoff.NewJittered(base, 0)

	if got := j.Delay(3); got != 2*time.Second {
		t.Errorf("Delay(3) = %v, want %v", got, 2*time.Second)
	}
}
