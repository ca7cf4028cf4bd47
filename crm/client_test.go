package crm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IvanSScrobot/ardent-ms-call-retell/crm"
	"github.com/IvanSScrobot/ardent-ms-call-retell/retry"
)

func TestCreateLead_PostsLeadWithDefaultPipeline(t *testing.T) {
	var got crm.Lead
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/leads" {
			t.Errorf("path = %s, want /api/v4/leads", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := crm.New(srv.URL, "key", "pipeline-7")
	err := c.CreateLead(context.Background(), crm.Lead{
		TaskID:  9,
		CallRef: "call_x",
		Subject: "+15550001",
		Outcome: "completed",
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if got.PipelineID != "pipeline-7" {
		t.Errorf("PipelineID = %q, want the client default", got.PipelineID)
	}
	if got.TaskID != 9 || got.CallRef != "call_x" {
		t.Errorf("lead = %+v, want task 9 / call_x", got)
	}
}

func TestCreateLead_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		c := crm.New(srv.URL, "key", "")
		err := c.CreateLead(context.Background(), crm.Lead{TaskID: 1})
		srv.Close()

		if err == nil {
			t.Errorf("status %d: CreateLead succeeded, want error", tt.status)
			continue
		}
		if retry.IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: IsPermanent = %v, want %v", tt.status, retry.IsPermanent(err), tt.permanent)
		}
	}
}
