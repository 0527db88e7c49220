package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/mkirch/taskrelay/internal/remote"
	"github.com/mkirch/taskrelay/internal/store"
	"github.com/mkirch/taskrelay/internal/task"
)

// Config controls pass shaping and retry policy.
type Config struct {
	// BatchSize caps how many intents are submitted per request.
	BatchSize int

	// MaxRetries is the per-intent failure ceiling. When an intent's
	// retry count reaches it the owning task is flagged errored; the
	// intent itself stays queued for inspection and manual replay.
	MaxRetries int

	// ConnectTimeout bounds the connectivity probe.
	ConnectTimeout time.Duration

	// BatchTimeout bounds a single batch submission.
	BatchTimeout time.Duration
}

// DefaultConfig returns the stock pass shape: batches of 50, a ceiling of
// three retries, a 5 second probe window and a 30 second batch window.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      50,
		MaxRetries:     3,
		ConnectTimeout: 5 * time.Second,
		BatchTimeout:   30 * time.Second,
	}
}

// engine is the concrete Engine backed by the local store and a remote
// apply surface.
type engine struct {
	store  Store
	remote remote.Remote
	cfg    *Config
	logger *log.Logger
	mu     stdsync.Mutex
}

// New creates an Engine over the given store and apply surface. Zero or
// missing Config fields fall back to DefaultConfig values; a nil logger
// falls back to stderr.
func New(st Store, rem remote.Remote, cfg *Config, logger *log.Logger) Engine {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.BatchSize > 0 {
			c.BatchSize = cfg.BatchSize
		}
		if cfg.MaxRetries > 0 {
			c.MaxRetries = cfg.MaxRetries
		}
		if cfg.ConnectTimeout > 0 {
			c.ConnectTimeout = cfg.ConnectTimeout
		}
		if cfg.BatchTimeout > 0 {
			c.BatchTimeout = cfg.BatchTimeout
		}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &engine{
		store:  st,
		remote: rem,
		cfg:    c,
		logger: logger,
	}
}

// Sync implements Engine.Sync.
func (e *engine) Sync(ctx context.Context) (*Result, error) {
	if !e.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.mu.Unlock()

	result := &Result{StartedAt: time.Now().UTC()}

	// An unreachable authority ends the pass before the queue is touched.
	if err := e.probe(ctx); err != nil {
		e.logger.Printf("WARNING: authority unreachable, skipping pass: %v", err)
		result.Errors = append(result.Errors, ItemError{
			Kind:      KindConnectivity,
			Error:     fmt.Sprintf("authority unreachable: %v", err),
			Timestamp: time.Now().UTC(),
		})
		return e.finishPass(ctx, result)
	}

	intents, err := e.store.ListPendingIntentsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}

	result.Success = true
	if len(intents) == 0 {
		return e.finishPass(ctx, result)
	}

	e.logger.Printf("draining %d pending intent(s) in batches of %d", len(intents), e.cfg.BatchSize)

	// One batch at a time so retry bookkeeping for earlier intents
	// settles before later ones are submitted.
	for start := 0; start < len(intents); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(intents) {
			end = len(intents)
		}
		e.submitBatch(ctx, intents[start:end], result)
	}

	return e.finishPass(ctx, result)
}

// Status implements Engine.Status.
func (e *engine) Status(ctx context.Context) (*Status, error) {
	pending, err := e.store.PendingIntentCountContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending intents: %w", err)
	}
	last, err := e.store.LastSyncTimeContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	return &Status{
		PendingCount: pending,
		IsOnline:     e.probe(ctx) == nil,
		LastSyncAt:   last,
	}, nil
}

// probe checks authority reachability within the configured window.
func (e *engine) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()
	return e.remote.Ping(pctx)
}

// submitBatch sends one slice of intents to the apply surface and settles
// every member against the store. A transport failure fails the whole
// batch; the pass continues with the next one.
func (e *engine) submitBatch(ctx context.Context, intents []*task.Intent, result *Result) {
	req := &remote.BatchRequest{ClientTime: time.Now().UTC()}
	for _, in := range intents {
		req.Items = append(req.Items, remote.BatchItem{
			ClientID:  in.ID,
			TaskID:    in.TaskID,
			Operation: in.Operation,
			Data:      in.Data,
		})
	}

	bctx, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	resp, err := e.remote.Apply(bctx, req)
	cancel()
	if err != nil {
		e.logger.Printf("WARNING: batch of %d failed: %v", len(intents), err)
		result.Success = false
		for _, in := range intents {
			e.failIntent(ctx, in, KindBatch, fmt.Sprintf("batch submission failed: %v", err), result)
		}
		return
	}

	outcomes := make(map[string]*remote.Outcome, len(resp.Outcomes))
	for i := range resp.Outcomes {
		outcomes[resp.Outcomes[i].ClientID] = &resp.Outcomes[i]
	}

	for _, in := range intents {
		out, ok := outcomes[in.ID]
		if !ok {
			e.failIntent(ctx, in, KindItem, "authority returned no outcome for intent", result)
			continue
		}
		switch out.Status {
		case remote.StatusSuccess:
			e.commitIntent(ctx, in, out, result)
		case remote.StatusConflict:
			e.resolveIntent(ctx, in, out, result)
		default:
			msg := out.Error
			if msg == "" {
				msg = fmt.Sprintf("authority rejected intent with status %q", out.Status)
			}
			e.failIntent(ctx, in, KindItem, msg, result)
		}
	}
}

// commitIntent settles a successful outcome: the task's sync metadata is
// refreshed and the intent leaves the queue.
func (e *engine) commitIntent(ctx context.Context, in *task.Intent, out *remote.Outcome, result *Result) {
	if err := e.store.MarkTaskSyncedContext(ctx, in.TaskID, out.ServerID, time.Now().UTC()); err != nil {
		e.logger.Printf("WARNING: failed to mark task %s synced: %v", in.TaskID, err)
	}
	if err := e.store.RemoveIntentContext(ctx, in.ID); err != nil {
		e.logger.Printf("WARNING: failed to remove intent %s: %v", in.ID, err)
	}
	result.SyncedItems++
}

// resolveIntent settles a conflict outcome: the local and remote versions
// go through last-write-wins, the winner is persisted as synced, and the
// intent leaves the queue. The resolution is reported informationally and
// counts as a synced item, not a failure.
func (e *engine) resolveIntent(ctx context.Context, in *task.Intent, out *remote.Outcome, result *Result) {
	if out.ResolvedData == nil {
		e.failIntent(ctx, in, KindItem, "conflict outcome missing remote payload", result)
		return
	}

	local, err := e.store.GetTaskForSyncContext(ctx, in.TaskID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.failIntent(ctx, in, KindItem, fmt.Sprintf("failed to load local task: %v", err), result)
		return
	}

	remoteTask := &task.Task{
		ID:          in.TaskID,
		Title:       out.ResolvedData.Title,
		Description: out.ResolvedData.Description,
		Completed:   out.ResolvedData.Completed,
		IsDeleted:   out.ResolvedData.IsDeleted,
		CreatedAt:   out.ResolvedData.CreatedAt,
		UpdatedAt:   out.ResolvedData.UpdatedAt,
		SyncStatus:  task.StatusSynced,
		ServerID:    out.ServerID,
	}

	side := "remote"
	if local != nil && local.UpdatedAt.After(remoteTask.UpdatedAt) {
		side = "local"
	}

	now := time.Now().UTC()
	winner := ResolveConflict(local, remoteTask).Clone()
	winner.LastSyncedAt = &now
	if winner.ServerID == "" {
		winner.ServerID = out.ServerID
	}

	if err := e.store.SaveResolvedContext(ctx, winner); err != nil {
		e.failIntent(ctx, in, KindItem, fmt.Sprintf("failed to persist resolved task: %v", err), result)
		return
	}
	if err := e.store.RemoveIntentContext(ctx, in.ID); err != nil {
		e.logger.Printf("WARNING: failed to remove intent %s: %v", in.ID, err)
	}

	e.logger.Printf("conflict on task %s resolved in favor of %s version", in.TaskID, side)

	result.SyncedItems++
	result.Errors = append(result.Errors, ItemError{
		TaskID:    in.TaskID,
		Operation: in.Operation,
		Kind:      KindConflict,
		Error:     fmt.Sprintf("conflict resolved in favor of %s version", side),
		Timestamp: now,
	})
}

// failIntent records a failed attempt against the intent and, at the
// retry ceiling, flags the owning task. The intent is never purged.
func (e *engine) failIntent(ctx context.Context, in *task.Intent, kind ErrorKind, msg string, result *Result) {
	count, err := e.store.RecordIntentFailureContext(ctx, in.ID, msg)
	if err != nil {
		e.logger.Printf("WARNING: failed to record failure for intent %s: %v", in.ID, err)
		count = in.RetryCount + 1
	}
	if count >= e.cfg.MaxRetries {
		e.logger.Printf("WARNING: intent %s hit the retry ceiling (%d), flagging task %s", in.ID, count, in.TaskID)
		if err := e.store.MarkTaskSyncErrorContext(ctx, in.TaskID); err != nil {
			e.logger.Printf("WARNING: failed to flag task %s errored: %v", in.TaskID, err)
		}
	}
	result.FailedItems++
	result.Errors = append(result.Errors, ItemError{
		TaskID:    in.TaskID,
		Operation: in.Operation,
		Kind:      kind,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	})
}

// finishPass stamps the result and appends it to the sync log. A log
// write failure is reported but does not alter the result.
func (e *engine) finishPass(ctx context.Context, result *Result) (*Result, error) {
	result.FinishedAt = time.Now().UTC()
	rec := &task.PassRecord{
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		Success:     result.Success,
		SyncedItems: result.SyncedItems,
		FailedItems: result.FailedItems,
		ErrorCount:  len(result.Errors),
	}
	if err := e.store.RecordSyncPassContext(ctx, rec); err != nil {
		e.logger.Printf("WARNING: failed to record sync pass: %v", err)
	}
	return result, nil
}
