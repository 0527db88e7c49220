package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mkirch/taskrelay/internal/remote"
	"github.com/mkirch/taskrelay/internal/store"
	tasksync "github.com/mkirch/taskrelay/internal/sync"
	"github.com/mkirch/taskrelay/internal/task"
)

// quietLogger returns a logger that discards output during tests
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// testServer starts a fully wired server on a random port and returns it
// with the base URL for requests against it
func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	logger := quietLogger()
	authority := remote.NewLoopback(st, logger)
	engine := tasksync.New(st, authority, nil, logger)

	srv := NewServer(st, engine, authority, &Config{Port: 0, Logger: logger})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	_, port, err := net.SplitHostPort(srv.GetAddr())
	if err != nil {
		t.Fatalf("GetAddr() returned unparseable address %q: %v", srv.GetAddr(), err)
	}
	return srv, "http://127.0.0.1:" + port
}

// httpJSON performs a request with an optional JSON body
func httpJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest(%s %s) failed: %v", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

// decodeBody decodes a JSON response body into out and closes it
func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response body failed: %v", err)
	}
}

// TestServerStartStop tests the listener lifecycle on a random port
func TestServerStartStop(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "lifecycle.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	logger := quietLogger()
	authority := remote.NewLoopback(st, logger)
	engine := tasksync.New(st, authority, nil, logger)
	srv := NewServer(st, engine, authority, &Config{Port: 0, Logger: logger})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	addr := srv.GetAddr()
	if strings.HasSuffix(addr, ":0") {
		t.Errorf("GetAddr() = %q, expected a bound port", addr)
	}

	if err := srv.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

// TestHealthEndpoint tests GET /api/health
func TestHealthEndpoint(t *testing.T) {
	_, base := testServer(t)

	resp := httpJSON(t, http.MethodGet, base+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	decodeBody(t, resp, &health)

	if health.Status != "ok" {
		t.Errorf("Status = %q, want 'ok'", health.Status)
	}
	if health.Clients != 0 {
		t.Errorf("Clients = %d, want 0", health.Clients)
	}
}

// TestCreateTaskEndpoint tests POST /api/tasks
func TestCreateTaskEndpoint(t *testing.T) {
	srv, base := testServer(t)

	resp := httpJSON(t, http.MethodPost, base+"/api/tasks", map[string]string{
		"title":       "Ship release notes",
		"description": "v0.3 highlights",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	var created task.Task
	decodeBody(t, resp, &created)

	if created.ID == "" {
		t.Error("created task has an empty id")
	}
	if created.Title != "Ship release notes" {
		t.Errorf("Title = %q, want 'Ship release notes'", created.Title)
	}
	if created.Description != "v0.3 highlights" {
		t.Errorf("Description = %q, want 'v0.3 highlights'", created.Description)
	}
	if created.SyncStatus != task.StatusPending {
		t.Errorf("SyncStatus = %q, want %q", created.SyncStatus, task.StatusPending)
	}

	// The task and its create intent must be persisted.
	stored, err := srv.store.GetTask(created.ID)
	if err != nil {
		t.Fatalf("GetTask() after create failed: %v", err)
	}
	if stored.Title != created.Title {
		t.Errorf("stored Title = %q, want %q", stored.Title, created.Title)
	}
	count, err := srv.store.PendingIntentCount()
	if err != nil {
		t.Fatalf("PendingIntentCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("pending intents = %d, want 1", count)
	}
}

// TestCreateTaskEndpoint_Validation tests rejection of malformed create bodies
func TestCreateTaskEndpoint_Validation(t *testing.T) {
	_, base := testServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"EmptyTitle", `{"title": ""}`},
		{"MissingTitle", `{"description": "no title"}`},
		{"TitleTooLong", fmt.Sprintf(`{"title": %q}`, strings.Repeat("x", 501))},
		{"MalformedJSON", `{"title": `},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, base+"/api/tasks", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("NewRequest failed: %v", err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("POST /api/tasks failed: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}

			var errResp errorResponse
			decodeBody(t, resp, &errResp)
			if errResp.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

// TestListTasksEndpoint tests GET /api/tasks with filters
func TestListTasksEndpoint(t *testing.T) {
	srv, base := testServer(t)

	titles := []string{"Water the plants", "Book flights", "Renew passport"}
	for _, title := range titles {
		if _, err := srv.store.CreateTask(title, ""); err != nil {
			t.Fatalf("CreateTask(%q) failed: %v", title, err)
		}
	}

	t.Run("All", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/tasks", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status = %d, want 200", resp.StatusCode)
		}
		var tasks []*task.Task
		decodeBody(t, resp, &tasks)
		if len(tasks) != 3 {
			t.Errorf("got %d tasks, want 3", len(tasks))
		}
	})

	t.Run("FilterByCompleted", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/tasks?completed=true", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status = %d, want 200", resp.StatusCode)
		}
		var tasks []*task.Task
		decodeBody(t, resp, &tasks)
		if len(tasks) != 0 {
			t.Errorf("got %d completed tasks, want 0", len(tasks))
		}
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/tasks?status=pending", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status = %d, want 200", resp.StatusCode)
		}
		var tasks []*task.Task
		decodeBody(t, resp, &tasks)
		if len(tasks) != 3 {
			t.Errorf("got %d pending tasks, want 3", len(tasks))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/tasks?limit=2", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list status = %d, want 200", resp.StatusCode)
		}
		var tasks []*task.Task
		decodeBody(t, resp, &tasks)
		if len(tasks) != 2 {
			t.Errorf("got %d tasks, want 2", len(tasks))
		}
	})

	t.Run("BadCompletedFilter", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/tasks?completed=maybe", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/tasks?limit=-1", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

// TestGetTaskEndpoint tests GET /api/tasks/{id}
func TestGetTaskEndpoint(t *testing.T) {
	srv, base := testServer(t)

	created, err := srv.store.CreateTask("Fix the gate latch", "left hinge sags")
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	resp := httpJSON(t, http.MethodGet, base+"/api/tasks/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	var got task.Task
	decodeBody(t, resp, &got)
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
	if got.Description != "left hinge sags" {
		t.Errorf("Description = %q, want 'left hinge sags'", got.Description)
	}
}

// TestGetTaskEndpoint_NotFound tests 404 for unknown task ids
func TestGetTaskEndpoint_NotFound(t *testing.T) {
	_, base := testServer(t)

	resp := httpJSON(t, http.MethodGet, base+"/api/tasks/no-such-task", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	var errResp errorResponse
	decodeBody(t, resp, &errResp)
	if errResp.Error != "task not found" {
		t.Errorf("Error = %q, want 'task not found'", errResp.Error)
	}
}

// TestUpdateTaskEndpoint tests PATCH /api/tasks/{id}
func TestUpdateTaskEndpoint(t *testing.T) {
	srv, base := testServer(t)

	created, err := srv.store.CreateTask("Draft budget", "")
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	completed := true
	title := "Draft Q3 budget"
	resp := httpJSON(t, http.MethodPatch, base+"/api/tasks/"+created.ID, map[string]interface{}{
		"title":     title,
		"completed": completed,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want 200", resp.StatusCode)
	}

	var updated task.Task
	decodeBody(t, resp, &updated)
	if updated.Title != title {
		t.Errorf("Title = %q, want %q", updated.Title, title)
	}
	if !updated.Completed {
		t.Error("Completed = false, want true")
	}
	if updated.SyncStatus != task.StatusPending {
		t.Errorf("SyncStatus = %q, want %q", updated.SyncStatus, task.StatusPending)
	}
	if updated.Description != "" {
		t.Errorf("Description = %q, want untouched empty string", updated.Description)
	}
}

// TestUpdateTaskEndpoint_NotFound tests PATCH against an unknown id
func TestUpdateTaskEndpoint_NotFound(t *testing.T) {
	_, base := testServer(t)

	resp := httpJSON(t, http.MethodPatch, base+"/api/tasks/ghost", map[string]bool{"completed": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// TestUpdateTaskEndpoint_Validation tests rejection of an oversized title
func TestUpdateTaskEndpoint_Validation(t *testing.T) {
	srv, base := testServer(t)

	created, err := srv.store.CreateTask("Keep me", "")
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	long := strings.Repeat("y", 501)
	resp := httpJSON(t, http.MethodPatch, base+"/api/tasks/"+created.ID, map[string]string{"title": long})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// The stored title must be untouched.
	stored, err := srv.store.GetTask(created.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if stored.Title != "Keep me" {
		t.Errorf("Title = %q, want 'Keep me'", stored.Title)
	}
}

// TestDeleteTaskEndpoint tests DELETE /api/tasks/{id}
func TestDeleteTaskEndpoint(t *testing.T) {
	srv, base := testServer(t)

	created, err := srv.store.CreateTask("Old chore", "")
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	resp := httpJSON(t, http.MethodDelete, base+"/api/tasks/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	// Deleted tasks disappear from the read surface.
	resp = httpJSON(t, http.MethodGet, base+"/api/tasks/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}

	// A second delete against the hidden task is a 404 as well.
	resp = httpJSON(t, http.MethodDelete, base+"/api/tasks/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

// TestTriggerSyncEndpoint tests POST /api/sync pushing the queue through
// the loopback authority
func TestTriggerSyncEndpoint(t *testing.T) {
	srv, base := testServer(t)

	created, err := srv.store.CreateTask("Sync me over HTTP", "")
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	resp := httpJSON(t, http.MethodPost, base+"/api/sync", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}

	var result tasksync.Result
	decodeBody(t, resp, &result)
	if !result.Success {
		t.Errorf("Success = false, want true: %+v", result.Errors)
	}
	if result.SyncedItems != 1 {
		t.Errorf("SyncedItems = %d, want 1", result.SyncedItems)
	}
	if result.FailedItems != 0 {
		t.Errorf("FailedItems = %d, want 0", result.FailedItems)
	}

	synced, err := srv.store.GetTask(created.ID)
	if err != nil {
		t.Fatalf("GetTask() after sync failed: %v", err)
	}
	if synced.SyncStatus != task.StatusSynced {
		t.Errorf("SyncStatus = %q, want %q", synced.SyncStatus, task.StatusSynced)
	}
	if synced.ServerID == "" {
		t.Error("ServerID is empty after a successful pass")
	}

	count, err := srv.store.PendingIntentCount()
	if err != nil {
		t.Fatalf("PendingIntentCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("pending intents = %d, want 0 after pass", count)
	}
}

// TestSyncStatusEndpoint tests GET /api/sync/status
func TestSyncStatusEndpoint(t *testing.T) {
	srv, base := testServer(t)

	if _, err := srv.store.CreateTask("Queued one", ""); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if _, err := srv.store.CreateTask("Queued two", ""); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	resp := httpJSON(t, http.MethodGet, base+"/api/sync/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d, want 200", resp.StatusCode)
	}

	var status tasksync.Status
	decodeBody(t, resp, &status)
	if status.PendingCount != 2 {
		t.Errorf("PendingCount = %d, want 2", status.PendingCount)
	}
	if !status.IsOnline {
		t.Error("IsOnline = false, want true with the loopback authority")
	}
	if status.LastSyncAt != nil {
		t.Errorf("LastSyncAt = %v, want nil before any pass", status.LastSyncAt)
	}
}

// TestSyncHistoryEndpoint tests GET /api/sync/history and its filters
func TestSyncHistoryEndpoint(t *testing.T) {
	srv, base := testServer(t)

	if _, err := srv.store.CreateTask("History seed", ""); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	resp := httpJSON(t, http.MethodPost, base+"/api/sync", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}

	resp = httpJSON(t, http.MethodGet, base+"/api/sync/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", resp.StatusCode)
	}
	var passes []*task.PassRecord
	decodeBody(t, resp, &passes)
	if len(passes) != 1 {
		t.Fatalf("got %d passes, want 1", len(passes))
	}
	if !passes[0].Success {
		t.Error("recorded pass Success = false, want true")
	}
	if passes[0].SyncedItems != 1 {
		t.Errorf("recorded SyncedItems = %d, want 1", passes[0].SyncedItems)
	}

	t.Run("SinceFuture", func(t *testing.T) {
		future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
		resp := httpJSON(t, http.MethodGet, base+"/api/sync/history?since="+future, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("history status = %d, want 200", resp.StatusCode)
		}
		var passes []*task.PassRecord
		decodeBody(t, resp, &passes)
		if len(passes) != 0 {
			t.Errorf("got %d passes since the future, want 0", len(passes))
		}
	})

	t.Run("BadSince", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/sync/history?since=yesterday", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		resp := httpJSON(t, http.MethodGet, base+"/api/sync/history?limit=0", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

// TestApplyBatchEndpoint tests POST /api/sync/batch applying a create
// against this instance's authority state
func TestApplyBatchEndpoint(t *testing.T) {
	srv, base := testServer(t)

	now := time.Now().UTC()
	batch := remote.BatchRequest{
		Items: []remote.BatchItem{
			{
				ClientID:  "intent-remote-1",
				TaskID:    "task-remote-1",
				Operation: task.OpCreate,
				Data: &task.Snapshot{
					Title:     "Pushed from another node",
					CreatedAt: now,
					UpdatedAt: now,
				},
			},
		},
		ClientTime: now,
	}

	resp := httpJSON(t, http.MethodPost, base+"/api/sync/batch", batch)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", resp.StatusCode)
	}

	var applied remote.BatchResponse
	decodeBody(t, resp, &applied)
	if len(applied.Outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(applied.Outcomes))
	}
	out := applied.Outcomes[0]
	if out.ClientID != "intent-remote-1" {
		t.Errorf("ClientID = %q, want 'intent-remote-1'", out.ClientID)
	}
	if out.Status != remote.StatusSuccess {
		t.Errorf("Status = %q, want %q (error: %s)", out.Status, remote.StatusSuccess, out.Error)
	}
	if out.ServerID == "" {
		t.Error("ServerID is empty for an applied create")
	}

	// The create lands in authoritative state, not in the local task list.
	auth, err := srv.store.GetAuthorityTask("task-remote-1")
	if err != nil {
		t.Fatalf("GetAuthorityTask() failed: %v", err)
	}
	if auth.Title != "Pushed from another node" {
		t.Errorf("authority Title = %q, want 'Pushed from another node'", auth.Title)
	}
}

// TestApplyBatchEndpoint_BadBody tests rejection of a malformed batch
func TestApplyBatchEndpoint_BadBody(t *testing.T) {
	_, base := testServer(t)

	req, err := http.NewRequest(http.MethodPost, base+"/api/sync/batch", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/sync/batch failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// TestWebSocketEvents tests that a connected client receives task events
func TestWebSocketEvents(t *testing.T) {
	srv, base := testServer(t)
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial(%s) failed: %v", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Registration happens in the upgrade handler; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for srv.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want 1", srv.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := httpJSON(t, http.MethodPost, base+"/api/tasks", map[string]string{"title": "Broadcast me"})
	var created task.Task
	decodeBody(t, resp, &created)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal event failed: %v", err)
	}
	if evt.Type != EventTaskCreated {
		t.Errorf("event Type = %q, want %q", evt.Type, EventTaskCreated)
	}

	var payload TaskEventData
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("unmarshal event data failed: %v", err)
	}
	if payload.TaskID != created.ID {
		t.Errorf("event TaskID = %q, want %q", payload.TaskID, created.ID)
	}
	if payload.Title != "Broadcast me" {
		t.Errorf("event Title = %q, want 'Broadcast me'", payload.Title)
	}
}
