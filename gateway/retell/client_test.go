package retell_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IvanSScrobot/ardent-ms-call-retell/backlog"
	"github.com/IvanSScrobot/ardent-ms-call-retell/gateway/retell"
	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
)

func testTask() *backlog.Task {
	return &backlog.Task{
		ID:      42,
		Subject: "+15550123",
		Payload: []byte(`{"contact_name":"Dana"}`),
	}
}

func TestSubmit_ReturnsCallRef(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/create-phone-call" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "call_abc123"})
	}))
	defer srv.Close()

	c := retell.New(srv.URL, "secret", "+15550000", "agent-1")
	ref, err := c.Submit(context.Background(), testTask())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ref != "call_abc123" {
		t.Errorf("ref = %q, want call_abc123", ref)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody["to_number"] != "+15550123" {
		t.Errorf("to_number = %v, want task subject", gotBody["to_number"])
	}
}

func TestSubmit_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := retell.New(srv.URL, "secret", "+15550000", "agent-1")
	_, err := c.Submit(context.Background(), testTask())
	if err == nil {
		t.Fatal("Submit succeeded, want error")
	}
	if retry.IsPermanent(err) {
		t.Errorf("5xx classified permanent: %v", err)
	}
}

func TestSubmit_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid to_number", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := retell.New(srv.URL, "secret", "+15550000", "agent-1")
	_, err := c.Submit(context.Background(), testTask())
	if err == nil {
		t.Fatal("Submit succeeded, want error")
	}
	if !retry.IsPermanent(err) {
		t.Errorf("4xx not classified permanent: %v", err)
	}
}

func TestSubmit_TooManyRequestsStaysTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := retell.New(srv.URL, "secret", "+15550000", "agent-1")
	_, err := c.Submit(context.Background(), testTask())
	if err == nil {
		t.Fatal("Submit succeeded, want error")
	}
	if retry.IsPermanent(err) {
		t.Errorf("429 classified permanent: %v", err)
	}
}

func TestSubmit_RateLimiterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"call_id": "c1"})
	}))
	defer srv.Close()

	// Burst of 1 at a tiny rate: the second Submit must block and then
	// fail when the context is cancelled.
	c := retell.New(srv.URL, "secret", "+15550000", "agent-1",
		retell.WithRateLimit(0.001, 1))

	if _, err := c.Submit(context.Background(), testTask()); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Submit(ctx, testTask()); err == nil {
		t.Fatal("second Submit succeeded, want rate-limiter context error")
	}
}
