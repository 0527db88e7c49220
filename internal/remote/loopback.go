package remote

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/mkirch/taskrelay/internal/store"
	"github.com/mkirch/taskrelay/internal/task"
)

// Loopback applies batches against the authority_tasks table in the local
// store, letting a single node play both sides of the sync protocol.
//
// Per-operation behavior:
//   - create: upsert; always succeeds since identity is client-assigned,
//     and re-applying after a crash lands on the same record
//   - update: error "not found" if the record is absent, else applied
//   - delete: error "not found" if the record is absent, else soft-deleted
//   - anything else: error "unknown operation"
//
// Loopback never emits a conflict outcome; that category belongs to a
// genuinely separate authority with its own write path.
type Loopback struct {
	store  *store.Store
	logger *log.Logger
}

// NewLoopback creates a loopback apply surface over the given store.
//
// If logger is nil, a default logger writing to stderr is used.
func NewLoopback(st *store.Store, logger *log.Logger) *Loopback {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Loopback{
		store:  st,
		logger: logger,
	}
}

// Ping implements Remote.Ping by probing the underlying store.
func (l *Loopback) Ping(ctx context.Context) error {
	return l.store.PingContext(ctx)
}

// Apply implements Remote.Apply. Items are applied in order and each gets
// an outcome; item-level failures never abort the batch.
func (l *Loopback) Apply(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	resp := &BatchResponse{Outcomes: make([]Outcome, 0, len(req.Items))}
	for _, item := range req.Items {
		resp.Outcomes = append(resp.Outcomes, l.applyItem(ctx, item))
	}
	return resp, nil
}

// applyItem applies a single intent to authoritative state.
func (l *Loopback) applyItem(ctx context.Context, item BatchItem) Outcome {
	out := Outcome{ClientID: item.ClientID}

	switch item.Operation {
	case task.OpCreate:
		if item.Data == nil {
			out.Status = StatusError
			out.Error = "create intent missing payload"
			return out
		}
		serverID, err := l.store.UpsertAuthorityTaskContext(ctx, item.TaskID, uuid.NewString(), item.Data)
		if err != nil {
			out.Status = StatusError
			out.Error = err.Error()
			return out
		}
		out.Status = StatusSuccess
		out.ServerID = serverID

	case task.OpUpdate:
		if item.Data == nil {
			out.Status = StatusError
			out.Error = "update intent missing payload"
			return out
		}
		serverID, found, err := l.store.UpdateAuthorityTaskContext(ctx, item.TaskID, item.Data)
		if err != nil {
			out.Status = StatusError
			out.Error = err.Error()
			return out
		}
		if !found {
			out.Status = StatusError
			out.Error = fmt.Sprintf("not found: task %s", item.TaskID)
			return out
		}
		out.Status = StatusSuccess
		out.ServerID = serverID

	case task.OpDelete:
		serverID, found, err := l.store.SoftDeleteAuthorityTaskContext(ctx, item.TaskID)
		if err != nil {
			out.Status = StatusError
			out.Error = err.Error()
			return out
		}
		if !found {
			out.Status = StatusError
			out.Error = fmt.Sprintf("not found: task %s", item.TaskID)
			return out
		}
		out.Status = StatusSuccess
		out.ServerID = serverID

	default:
		out.Status = StatusError
		out.Error = fmt.Sprintf("unknown operation %q", item.Operation)
		l.logger.Printf("WARNING: rejected intent %s with unknown operation %q", item.ClientID, item.Operation)
	}

	return out
}
