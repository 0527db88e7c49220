package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkirch/taskrelay/internal/task"
)

// EnqueueIntent appends a mutation intent to the sync queue.
//
// The queue is append-only and FIFO by created_at; same-task intents are
// never collapsed. Returns the new intent's id.
func (s *Store) EnqueueIntent(taskID string, op task.Operation, snap *task.Snapshot) (string, error) {
	return s.EnqueueIntentContext(context.Background(), taskID, op, snap)
}

// EnqueueIntentContext appends an intent with context support.
func (s *Store) EnqueueIntentContext(ctx context.Context, taskID string, op task.Operation, snap *task.Snapshot) (string, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := enqueueIntentTx(ctx, tx, taskID, op, snap)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

// enqueueIntentTx inserts an intent inside an existing transaction. The
// mutation paths in tasks.go use this so the task write and its intent land
// together.
func enqueueIntentTx(ctx context.Context, tx *sql.Tx, taskID string, op task.Operation, snap *task.Snapshot) (string, error) {
	in := &task.Intent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Operation: op,
		Data:      snap,
		CreatedAt: time.Now().UTC(),
	}
	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("invalid intent: %w", err)
	}

	data := sql.NullString{}
	if in.Data != nil {
		raw, err := json.Marshal(in.Data)
		if err != nil {
			return "", fmt.Errorf("failed to marshal intent payload: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
	INSERT INTO sync_queue (id, task_id, operation, data, created_at, retry_count, error_message)
	VALUES (?, ?, ?, ?, ?, 0, NULL)
	`
	_, err := tx.ExecContext(ctx, query,
		in.ID,
		in.TaskID,
		string(in.Operation),
		data,
		formatTime(in.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue intent: %w", err)
	}

	return in.ID, nil
}

// ListPendingIntents returns every queued intent, oldest first.
//
// FIFO by created_at is the only ordering guarantee; rowid breaks ties for
// intents enqueued at the same instant.
func (s *Store) ListPendingIntents() ([]*task.Intent, error) {
	return s.ListPendingIntentsContext(context.Background())
}

// ListPendingIntentsContext returns queued intents with context support.
func (s *Store) ListPendingIntentsContext(ctx context.Context) ([]*task.Intent, error) {
	query := `
	SELECT id, task_id, operation, data, created_at, retry_count, error_message
	FROM sync_queue
	ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []*task.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intents: %w", err)
	}
	return intents, nil
}

// GetIntent retrieves a single intent by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetIntent(id string) (*task.Intent, error) {
	return s.GetIntentContext(context.Background(), id)
}

// GetIntentContext retrieves an intent with context support.
func (s *Store) GetIntentContext(ctx context.Context, id string) (*task.Intent, error) {
	query := `
	SELECT id, task_id, operation, data, created_at, retry_count, error_message
	FROM sync_queue
	WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)

	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// RemoveIntent deletes an intent from the queue.
// Removing a non-existent id is a no-op, not an error.
func (s *Store) RemoveIntent(id string) error {
	return s.RemoveIntentContext(context.Background(), id)
}

// RemoveIntentContext deletes an intent with context support.
func (s *Store) RemoveIntentContext(ctx context.Context, id string) error {
	query := `DELETE FROM sync_queue WHERE id = ?`
	if _, err := s.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to remove intent %s: %w", id, err)
	}
	return nil
}

// RecordIntentFailure increments an intent's retry counter and stores the
// failure detail. Returns the new retry count; callers compare it against
// the configured ceiling.
func (s *Store) RecordIntentFailure(id, errMsg string) (int, error) {
	return s.RecordIntentFailureContext(context.Background(), id, errMsg)
}

// RecordIntentFailureContext records a failure with context support.
func (s *Store) RecordIntentFailureContext(ctx context.Context, id, errMsg string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	UPDATE sync_queue
	SET retry_count = retry_count + 1, error_message = ?
	WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure for intent %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to record failure for intent %s: %w", id, err)
	}
	if affected == 0 {
		return 0, ErrNotFound
	}

	var count int
	err = tx.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to read retry count for intent %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, nil
}

// PendingIntentCount returns the number of queued intents.
func (s *Store) PendingIntentCount() (int, error) {
	return s.PendingIntentCountContext(context.Background())
}

// PendingIntentCountContext returns the queue depth with context support.
func (s *Store) PendingIntentCountContext(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count intents: %w", err)
	}
	return count, nil
}

// ResetIntentFailures zeroes retry counters and error messages so failed
// intents are retried on the next pass. taskID narrows the reset to one
// task's intents; empty resets the whole queue. Affected tasks flagged
// error are flipped back to pending. Returns the number of intents reset.
func (s *Store) ResetIntentFailures(taskID string) (int, error) {
	return s.ResetIntentFailuresContext(context.Background(), taskID)
}

// ResetIntentFailuresContext resets failures with context support.
func (s *Store) ResetIntentFailuresContext(ctx context.Context, taskID string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resetQuery := `UPDATE sync_queue SET retry_count = 0, error_message = NULL`
	taskQuery := `UPDATE tasks SET sync_status = ? WHERE sync_status = ?`
	args := []interface{}{}
	taskArgs := []interface{}{string(task.StatusPending), string(task.StatusError)}

	if taskID != "" {
		resetQuery += ` WHERE task_id = ?`
		args = append(args, taskID)
		taskQuery += ` AND id = ?`
		taskArgs = append(taskArgs, taskID)
	}

	res, err := tx.ExecContext(ctx, resetQuery, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset intent failures: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reset intent failures: %w", err)
	}

	if _, err := tx.ExecContext(ctx, taskQuery, taskArgs...); err != nil {
		return 0, fmt.Errorf("failed to reset task status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(affected), nil
}

// ClearQueue removes every queued intent. This is the manual purge path;
// the engine never clears the queue itself. Returns the number removed.
func (s *Store) ClearQueue() (int, error) {
	return s.ClearQueueContext(context.Background())
}

// ClearQueueContext removes all intents with context support.
func (s *Store) ClearQueueContext(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}
	return int(affected), nil
}

// scanIntent reads one intent row.
func scanIntent(row scanner) (*task.Intent, error) {
	var in task.Intent
	var operation, createdAt string
	var data, errMsg sql.NullString

	err := row.Scan(
		&in.ID,
		&in.TaskID,
		&operation,
		&data,
		&createdAt,
		&in.RetryCount,
		&errMsg,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan intent: %w", err)
	}

	in.Operation = task.Operation(operation)
	if ts, err := parseTime(createdAt); err == nil {
		in.CreatedAt = ts
	}
	if data.Valid && data.String != "" {
		var snap task.Snapshot
		if err := json.Unmarshal([]byte(data.String), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal intent payload: %w", err)
		}
		in.Data = &snap
	}
	if errMsg.Valid {
		in.ErrorMessage = errMsg.String
	}

	return &in, nil
}
