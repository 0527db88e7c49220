// Package remote defines the apply surface between the sync engine and
// authoritative task state, plus its two implementations: the loopback
// surface that applies batches against the local store, and an HTTP client
// for a separate authority node.
package remote

import (
	"context"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// Status tags the per-item outcome of a batch apply.
type Status string

const (
	// StatusSuccess means the intent was applied to authoritative state.
	StatusSuccess Status = "success"

	// StatusConflict means the authority holds a diverging version; the
	// outcome carries it in ResolvedData for the engine to resolve.
	StatusConflict Status = "conflict"

	// StatusError means the intent could not be applied (missing target,
	// unknown operation). The engine records a failure against it.
	StatusError Status = "error"
)

// BatchItem is one intent in a batch submission. ClientID is the intent's
// id; outcomes correlate by it, since a batch may carry several intents for
// the same task.
type BatchItem struct {
	ClientID  string         `json:"client_id"`
	TaskID    string         `json:"task_id"`
	Operation task.Operation `json:"operation"`
	Data      *task.Snapshot `json:"data,omitempty"`
}

// BatchRequest is one batch submission: an ordered list of intents plus the
// client's clock at submission time.
type BatchRequest struct {
	Items      []BatchItem `json:"items"`
	ClientTime time.Time   `json:"client_time"`
}

// Outcome is the authority's verdict on one batch item. Outcome order need
// not match request order.
type Outcome struct {
	ClientID     string         `json:"client_id"`
	ServerID     string         `json:"server_id,omitempty"`
	Status       Status         `json:"status"`
	ResolvedData *task.Snapshot `json:"resolved_data,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// BatchResponse carries one outcome per submitted item.
type BatchResponse struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Remote is the apply surface the sync engine drains the queue into.
//
// Implementations must return one outcome per submitted item, correlated by
// ClientID; an error from Apply means the whole batch failed in transport
// and nothing can be assumed about individual items.
//
// Both methods must respect the deadline on the passed context; the engine
// bounds the liveness probe and batch submission separately.
type Remote interface {
	// Ping probes the authority for liveness.
	//
	// A nil return means the authority is reachable and a pass may
	// proceed. Any error aborts the pass before the queue is touched.
	//
	// Example:
	//   ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	//   defer cancel()
	//   if err := rem.Ping(ctx); err != nil {
	//       // offline; try again later
	//   }
	Ping(ctx context.Context) error

	// Apply submits one batch of intents for application against
	// authoritative state.
	//
	// Returns a response with one outcome per item on success. A non-nil
	// error means the batch as a whole failed (network, timeout,
	// serialization); the engine records a failure against every member.
	//
	// Example:
	//   resp, err := rem.Apply(ctx, &remote.BatchRequest{Items: items, ClientTime: time.Now()})
	Apply(ctx context.Context, req *BatchRequest) (*BatchResponse, error)
}
