package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

const taskColumns = `id, title, description, completed, is_deleted,
	       created_at, updated_at, sync_status, server_id, last_synced_at`

// CreateTask creates a task and enqueues its create intent in one step.
func (s *Store) CreateTask(title, description string) (*task.Task, error) {
	return s.CreateTaskContext(context.Background(), title, description)
}

// CreateTaskContext creates a task with context support.
//
// The task row and the create intent are written in a single transaction so
// a mutation can never land without its queue entry.
func (s *Store) CreateTaskContext(ctx context.Context, title, description string) (*task.Task, error) {
	t := task.New(title, description)
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO tasks (
		id, title, description, completed, is_deleted,
		created_at, updated_at, sync_status, server_id, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`
	_, err = tx.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		boolToInt(t.Completed),
		boolToInt(t.IsDeleted),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
		string(t.SyncStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	if _, err := enqueueIntentTx(ctx, tx, t.ID, task.OpCreate, task.SnapshotOf(t)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return t, nil
}

// UpdateTaskFields holds the mutable fields of an update. Nil fields are
// left unchanged.
type UpdateTaskFields struct {
	Title       *string
	Description *string
	Completed   *bool
}

// UpdateTask applies field changes and enqueues an update intent.
func (s *Store) UpdateTask(id string, fields UpdateTaskFields) (*task.Task, error) {
	return s.UpdateTaskContext(context.Background(), id, fields)
}

// UpdateTaskContext applies field changes with context support.
//
// The task's updated_at is refreshed and sync_status reset to pending.
// Returns ErrNotFound if the task does not exist or is soft-deleted.
func (s *Store) UpdateTaskContext(ctx context.Context, id string, fields UpdateTaskFields) (*task.Task, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := getTaskTx(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}

	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Completed != nil {
		t.Completed = *fields.Completed
	}
	t.UpdatedAt = time.Now().UTC()
	t.SyncStatus = task.StatusPending

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	query := `
	UPDATE tasks
	SET title = ?, description = ?, completed = ?, updated_at = ?, sync_status = ?
	WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		t.Title,
		t.Description,
		boolToInt(t.Completed),
		formatTime(t.UpdatedAt),
		string(t.SyncStatus),
		t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	if _, err := enqueueIntentTx(ctx, tx, t.ID, task.OpUpdate, task.SnapshotOf(t)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return t, nil
}

// DeleteTask soft-deletes a task and enqueues a delete intent.
func (s *Store) DeleteTask(id string) error {
	return s.DeleteTaskContext(context.Background(), id)
}

// DeleteTaskContext soft-deletes with context support.
//
// The row stays in place with is_deleted set; readers no longer see it.
// Returns ErrNotFound if the task does not exist or is already deleted.
func (s *Store) DeleteTaskContext(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getTaskTx(ctx, tx, id, false); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
	UPDATE tasks
	SET is_deleted = 1, updated_at = ?, sync_status = ?
	WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, query, formatTime(now), string(task.StatusPending), id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	if _, err := enqueueIntentTx(ctx, tx, id, task.OpDelete, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID, excluding soft-deleted tasks.
// Returns ErrNotFound if the task doesn't exist or is deleted.
func (s *Store) GetTask(id string) (*task.Task, error) {
	return s.GetTaskContext(context.Background(), id)
}

// GetTaskContext retrieves a task by ID with context support.
func (s *Store) GetTaskContext(ctx context.Context, id string) (*task.Task, error) {
	return s.getTask(ctx, id, false)
}

// GetTaskForSync retrieves a task by ID including soft-deleted tasks.
// Only the sync path should use this; everything else goes through GetTask.
func (s *Store) GetTaskForSync(id string) (*task.Task, error) {
	return s.GetTaskForSyncContext(context.Background(), id)
}

// GetTaskForSyncContext retrieves a task for the sync path with context support.
func (s *Store) GetTaskForSyncContext(ctx context.Context, id string) (*task.Task, error) {
	return s.getTask(ctx, id, true)
}

func (s *Store) getTask(ctx context.Context, id string, includeDeleted bool) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}

	row := s.conn.QueryRowContext(ctx, query, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// getTaskTx loads a task inside a transaction.
func getTaskTx(ctx context.Context, tx *sql.Tx, id string, includeDeleted bool) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}

	row := tx.QueryRowContext(ctx, query, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasksFilter configures the ListActiveTasks query.
type ListTasksFilter struct {
	// Completed filters by completion state (nil = both)
	Completed *bool
	// SyncStatus filters by sync status (empty = all)
	SyncStatus task.SyncStatus
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// ListActiveTasks retrieves non-deleted tasks matching the filter.
// Results are ordered by created_at ascending.
func (s *Store) ListActiveTasks(filter ListTasksFilter) ([]*task.Task, error) {
	return s.ListActiveTasksContext(context.Background(), filter)
}

// ListActiveTasksContext retrieves tasks with context support.
func (s *Store) ListActiveTasksContext(ctx context.Context, filter ListTasksFilter) ([]*task.Task, error) {
	conditions := []string{"is_deleted = 0"}
	var args []interface{}

	if filter.Completed != nil {
		conditions = append(conditions, "completed = ?")
		args = append(args, boolToInt(*filter.Completed))
	}

	if filter.SyncStatus != "" {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, string(filter.SyncStatus))
	}

	query := `SELECT ` + taskColumns + `
	FROM tasks
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY created_at ASC, rowid ASC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkTaskSynced records a successful reconciliation for a task.
func (s *Store) MarkTaskSynced(id, serverID string, at time.Time) error {
	return s.MarkTaskSyncedContext(context.Background(), id, serverID, at)
}

// MarkTaskSyncedContext records a successful reconciliation with context support.
//
// Sets sync_status to synced and last_synced_at to the given time. The
// server id is only written when non-empty so a later outcome without one
// doesn't erase it.
func (s *Store) MarkTaskSyncedContext(ctx context.Context, id, serverID string, at time.Time) error {
	query := `
	UPDATE tasks
	SET sync_status = ?,
	    last_synced_at = ?,
	    server_id = COALESCE(NULLIF(?, ''), server_id)
	WHERE id = ?
	`
	_, err := s.conn.ExecContext(ctx, query,
		string(task.StatusSynced),
		formatTime(at),
		serverID,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %s synced: %w", id, err)
	}
	return nil
}

// MarkTaskSyncError flags a task whose intent failed past the retry ceiling.
func (s *Store) MarkTaskSyncError(id string) error {
	return s.MarkTaskSyncErrorContext(context.Background(), id)
}

// MarkTaskSyncErrorContext flags a task with context support.
func (s *Store) MarkTaskSyncErrorContext(ctx context.Context, id string) error {
	query := `UPDATE tasks SET sync_status = ? WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, string(task.StatusError), id)
	if err != nil {
		return fmt.Errorf("failed to mark task %s errored: %w", id, err)
	}
	return nil
}

// SaveResolved persists a conflict winner chosen by the resolver.
func (s *Store) SaveResolved(t *task.Task) error {
	return s.SaveResolvedContext(context.Background(), t)
}

// SaveResolvedContext persists a conflict winner with context support.
//
// Unlike the mutation paths this writes the record verbatim: updated_at is
// the winner's timestamp, sync_status becomes synced, and no intent is
// enqueued. Inserts the row if it is missing.
func (s *Store) SaveResolvedContext(ctx context.Context, t *task.Task) error {
	query := `
	INSERT INTO tasks (
		id, title, description, completed, is_deleted,
		created_at, updated_at, sync_status, server_id, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		completed = excluded.completed,
		is_deleted = excluded.is_deleted,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status,
		server_id = COALESCE(excluded.server_id, server_id),
		last_synced_at = excluded.last_synced_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		boolToInt(t.Completed),
		boolToInt(t.IsDeleted),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
		string(task.StatusSynced),
		nullableString(t.ServerID),
		timeToNullString(t.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save resolved task %s: %w", t.ID, err)
	}
	return nil
}

// ImportTask inserts an externally sourced task and enqueues a create intent.
func (s *Store) ImportTask(t *task.Task) error {
	return s.ImportTaskContext(context.Background(), t)
}

// ImportTaskContext inserts a task with context support.
//
// The task keeps its original timestamps but is marked pending so the next
// pass reconciles it. Returns ErrExists if the id is already present.
func (s *Store) ImportTaskContext(ctx context.Context, t *task.Task) error {
	in := t.Clone()
	in.SyncStatus = task.StatusPending
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, in.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check task %s: %w", in.ID, err)
	}
	if exists > 0 {
		return ErrExists
	}

	query := `
	INSERT INTO tasks (
		id, title, description, completed, is_deleted,
		created_at, updated_at, sync_status, server_id, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`
	_, err = tx.ExecContext(ctx, query,
		in.ID,
		in.Title,
		in.Description,
		boolToInt(in.Completed),
		boolToInt(in.IsDeleted),
		formatTime(in.CreatedAt),
		formatTime(in.UpdatedAt),
		string(in.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	if _, err := enqueueIntentTx(ctx, tx, in.ID, task.OpCreate, task.SnapshotOf(in)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// TaskStatusCounts returns the number of non-deleted tasks per sync status.
func (s *Store) TaskStatusCounts() (map[task.SyncStatus]int, error) {
	return s.TaskStatusCountsContext(context.Background())
}

// TaskStatusCountsContext returns status counts with context support.
func (s *Store) TaskStatusCountsContext(ctx context.Context) (map[task.SyncStatus]int, error) {
	query := `
	SELECT sync_status, COUNT(*)
	FROM tasks
	WHERE is_deleted = 0
	GROUP BY sync_status
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[task.SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[task.SyncStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row.
func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var completed, isDeleted int
	var createdAt, updatedAt, syncStatus string
	var serverID, lastSyncedAt sql.NullString

	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&completed,
		&isDeleted,
		&createdAt,
		&updatedAt,
		&syncStatus,
		&serverID,
		&lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Completed = completed != 0
	t.IsDeleted = isDeleted != 0
	t.SyncStatus = task.SyncStatus(syncStatus)

	if ts, err := parseTime(createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := parseTime(updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	if serverID.Valid {
		t.ServerID = serverID.String
	}
	t.LastSyncedAt = nullStringToTime(lastSyncedAt)

	return &t, nil
}

// scanTasks is a helper function to scan multiple tasks from query results.
func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
