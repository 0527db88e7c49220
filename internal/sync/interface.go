package sync

import (
	"context"
	"errors"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// ErrSyncInProgress is returned by Sync when another pass is already
// running. The caller should retry after the current pass finishes;
// triggers are rejected rather than queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// TaskStore is the slice of task persistence the engine settles outcomes
// against. GetTaskForSyncContext must return soft-deleted tasks too; the
// engine is the one reader deletions stay visible to.
type TaskStore interface {
	GetTaskForSyncContext(ctx context.Context, id string) (*task.Task, error)
	MarkTaskSyncedContext(ctx context.Context, id, serverID string, at time.Time) error
	MarkTaskSyncErrorContext(ctx context.Context, id string) error
	SaveResolvedContext(ctx context.Context, t *task.Task) error
}

// IntentQueue is the slice of queue persistence the engine drains.
// Listing must be oldest first; removal of a missing intent is a no-op.
type IntentQueue interface {
	ListPendingIntentsContext(ctx context.Context) ([]*task.Intent, error)
	PendingIntentCountContext(ctx context.Context) (int, error)
	RemoveIntentContext(ctx context.Context, id string) error
	RecordIntentFailureContext(ctx context.Context, id, errMsg string) (int, error)
}

// PassLog records completed passes and reports the last successful one.
type PassLog interface {
	RecordSyncPassContext(ctx context.Context, rec *task.PassRecord) error
	LastSyncTimeContext(ctx context.Context) (*time.Time, error)
}

// Store is the full persistence surface the engine consumes.
// *store.Store satisfies it.
type Store interface {
	TaskStore
	IntentQueue
	PassLog
}

// Engine coordinates synchronization between the local task store and the
// remote authority. It owns the pass lifecycle: connectivity probing,
// queue draining, batch submission, and outcome reconciliation.
//
// Implementations must serialize passes. Concurrent Sync calls do not
// interleave; the losing caller receives ErrSyncInProgress.
type Engine interface {
	// Sync runs a single synchronization pass and reports what happened.
	//
	// Expected failures (authority unreachable, batch transport errors,
	// per-item apply errors) are folded into the Result rather than
	// returned: the error is reserved for ErrSyncInProgress and for
	// local store faults that prevent the pass from proceeding at all.
	//
	// Example:
	//
	//	result, err := eng.Sync(ctx)
	//	if errors.Is(err, sync.ErrSyncInProgress) {
	//	    fmt.Println("a pass is already running")
	//	    return nil
	//	}
	//	if err != nil {
	//	    return err
	//	}
	//	if !result.Success {
	//	    for _, e := range result.Errors {
	//	        fmt.Printf("%s %s: %s\n", e.Operation, e.TaskID, e.Error)
	//	    }
	//	}
	Sync(ctx context.Context) (*Result, error)

	// Status reports the current queue depth, whether the authority is
	// reachable right now, and when the last successful pass finished.
	// It never mutates anything and may be called while a pass runs.
	//
	// Example:
	//
	//	status, err := eng.Status(ctx)
	//	if err != nil {
	//	    return err
	//	}
	//	fmt.Printf("pending: %d online: %v\n", status.PendingCount, status.IsOnline)
	Status(ctx context.Context) (*Status, error)
}
