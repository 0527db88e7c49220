package remote

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// TestClient_Ping tests the health probe against a live endpoint
func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("probe hit %q, want /api/health", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("probe method = %q, want GET", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, log.New(io.Discard, "", 0))
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

// TestClient_PingUnhealthy tests that a non-200 probe is an error
func TestClient_PingUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, log.New(io.Discard, "", 0))
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() = nil for a 503 response, want error")
	}
}

// TestClient_PingUnreachable tests the probe against a closed endpoint
func TestClient_PingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, log.New(io.Discard, "", 0))
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() = nil against a closed server, want error")
	}
}

// TestClient_Apply tests the batch round-trip
func TestClient_Apply(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sync/batch" {
			t.Errorf("batch hit %q, want /api/sync/batch", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Items) != 1 || req.Items[0].ClientID != "intent-1" {
			t.Errorf("request items = %+v, want the submitted intent", req.Items)
		}
		if req.Items[0].Data == nil || req.Items[0].Data.Title != "Over the wire" {
			t.Error("payload did not survive the round trip")
		}

		resp := BatchResponse{Outcomes: []Outcome{
			{ClientID: "intent-1", ServerID: "srv-1", Status: StatusSuccess},
		}}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, log.New(io.Discard, "", 0))
	resp, err := c.Apply(context.Background(), &BatchRequest{
		ClientTime: now,
		Items: []BatchItem{
			{
				ClientID:  "intent-1",
				TaskID:    "task-1",
				Operation: task.OpCreate,
				Data:      &task.Snapshot{Title: "Over the wire", CreatedAt: now, UpdatedAt: now},
			},
		},
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(resp.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(resp.Outcomes))
	}
	if resp.Outcomes[0].ServerID != "srv-1" || resp.Outcomes[0].Status != StatusSuccess {
		t.Errorf("outcome = %+v, want the server's verdict", resp.Outcomes[0])
	}
}

// TestClient_ApplyServerError tests that a non-200 batch response fails with the body excerpt
func TestClient_ApplyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "authority store unavailable")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, log.New(io.Discard, "", 0))
	_, err := c.Apply(context.Background(), &BatchRequest{Items: []BatchItem{
		{ClientID: "i1", TaskID: "t1", Operation: task.OpDelete},
	}})
	if err == nil {
		t.Fatal("Apply() = nil for a 500 response, want error")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "authority store unavailable") {
		t.Errorf("error = %q, want the status and body excerpt", err)
	}
}

// TestClient_ApplyContextCancel tests that a canceled context aborts the call
func TestClient_ApplyContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, log.New(io.Discard, "", 0))
	_, err := c.Apply(ctx, &BatchRequest{Items: []BatchItem{
		{ClientID: "i1", TaskID: "t1", Operation: task.OpDelete},
	}})
	if err == nil {
		t.Error("Apply() = nil past the deadline, want error")
	}
}

// TestClient_TrailingSlash tests base URL normalization
func TestClient_TrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", log.New(io.Discard, "", 0))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
	if gotPath != "/api/health" {
		t.Errorf("path = %q, want /api/health without a doubled slash", gotPath)
	}
}
