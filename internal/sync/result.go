package sync

import (
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// ErrorKind classifies an entry in Result.Errors by where the failure
// (or, for conflicts, the resolution) happened during the pass.
type ErrorKind string

const (
	// KindConnectivity marks the single entry produced when the
	// authority probe fails and the pass ends before draining.
	KindConnectivity ErrorKind = "connectivity"

	// KindBatch marks entries produced when an entire batch submission
	// fails in transport. Every member of the batch gets one.
	KindBatch ErrorKind = "batch"

	// KindItem marks a per-item apply failure reported by the authority.
	KindItem ErrorKind = "item"

	// KindConflict marks an informational entry for a resolved conflict.
	// Conflict entries do not count toward FailedItems.
	KindConflict ErrorKind = "conflict"
)

// ItemError describes one failure or notable event from a pass.
type ItemError struct {
	TaskID    string         `json:"task_id"`
	Operation task.Operation `json:"operation"`
	Kind      ErrorKind      `json:"kind"`
	Error     string         `json:"error"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result summarizes a single synchronization pass.
//
// Success reflects the pass as a whole: false when the connectivity probe
// fails or any batch submission fails in transport. Individual item
// failures lower no flag; they surface through FailedItems and Errors.
type Result struct {
	Success     bool        `json:"success"`
	SyncedItems int         `json:"synced_items"`
	FailedItems int         `json:"failed_items"`
	Errors      []ItemError `json:"errors,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// Status is a point-in-time snapshot of the engine's world: how much work
// is queued, whether the authority answers a probe, and when a pass last
// completed successfully.
type Status struct {
	PendingCount int        `json:"pending_count"`
	IsOnline     bool       `json:"is_online"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}
