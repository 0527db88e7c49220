// Package task provides the data structures shared by the store, the sync
// engine, and the remote apply surface: tasks, queued mutation intents, and
// the snapshot payload an intent carries.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncStatus describes where a task stands relative to the remote authority.
type SyncStatus string

const (
	// StatusPending means the task has local changes not yet reconciled.
	StatusPending SyncStatus = "pending"

	// StatusSynced means the task matches the last confirmed remote state.
	StatusSynced SyncStatus = "synced"

	// StatusError means the task's intent failed past the retry ceiling.
	StatusError SyncStatus = "error"
)

// Valid reports whether s is a recognized sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusError:
		return true
	}
	return false
}

// Operation is the kind of mutation a queued intent represents.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a recognized operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Task is a locally owned task record. IDs are client-assigned; ServerID is
// filled in once the remote authority has confirmed the record.
//
// Every local mutation refreshes UpdatedAt and resets SyncStatus to pending.
// Deletion is a soft delete: IsDeleted is flipped and the row is kept so the
// engine can still reconcile it.
type Task struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Completed   bool   `json:"completed" yaml:"completed"`
	IsDeleted   bool   `json:"is_deleted" yaml:"is_deleted"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	SyncStatus   SyncStatus `json:"sync_status" yaml:"sync_status"`
	ServerID     string     `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
}

// New creates a task with a fresh ID, current timestamps, and pending status.
func New(title, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  StatusPending,
	}
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return fmt.Errorf("updated_at must not precede created_at")
	}
	if !t.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync status %q", t.SyncStatus)
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.LastSyncedAt != nil {
		at := *t.LastSyncedAt
		c.LastSyncedAt = &at
	}
	return &c
}

// Snapshot is the task payload captured at enqueue time. Create and update
// intents carry one; delete intents carry none (the task id alone identifies
// the target). It is stored as JSON but always decoded back into this type,
// never handled as an untyped blob.
type Snapshot struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	IsDeleted   bool      `json:"is_deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SnapshotOf captures the payload fields of a task.
func SnapshotOf(t *Task) *Snapshot {
	return &Snapshot{
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		IsDeleted:   t.IsDeleted,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Validate checks that the snapshot has valid field values.
func (s *Snapshot) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if s.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Intent is one queued mutation awaiting reconciliation. Multiple intents may
// reference the same task; the queue never collapses or reorders them.
type Intent struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Operation    Operation `json:"operation"`
	Data         *Snapshot `json:"data,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Validate checks that the intent is well formed: a recognized operation,
// a payload present exactly when the operation needs one.
func (in *Intent) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("id is required")
	}
	if in.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if !in.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", in.Operation)
	}
	switch in.Operation {
	case OpCreate, OpUpdate:
		if in.Data == nil {
			return fmt.Errorf("%s intent requires a payload", in.Operation)
		}
		if err := in.Data.Validate(); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	case OpDelete:
		if in.Data != nil {
			return fmt.Errorf("delete intent must not carry a payload")
		}
	}
	return nil
}

// PassRecord summarizes one completed synchronization pass.
type PassRecord struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Success     bool      `json:"success"`
	SyncedItems int       `json:"synced_items"`
	FailedItems int       `json:"failed_items"`
	ErrorCount  int       `json:"error_count"`
}
