package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// AuthorityTask is a record in the authoritative copy that the loopback
// apply surface maintains. It mirrors the client payload plus the
// server-assigned id.
type AuthorityTask struct {
	ID          string // client-assigned task id
	ServerID    string
	Title       string
	Description string
	Completed   bool
	IsDeleted   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertAuthorityTask applies a create payload to authoritative state.
//
// If the id is new the record is inserted with the given server id; if it
// already exists the payload fields are applied and the existing server id
// is kept, making create idempotent. Returns the effective server id.
func (s *Store) UpsertAuthorityTask(id, serverID string, snap *task.Snapshot) (string, error) {
	return s.UpsertAuthorityTaskContext(context.Background(), id, serverID, snap)
}

// UpsertAuthorityTaskContext applies a create payload with context support.
func (s *Store) UpsertAuthorityTaskContext(ctx context.Context, id, serverID string, snap *task.Snapshot) (string, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO authority_tasks (
		id, server_id, title, description, completed, is_deleted, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		completed = excluded.completed,
		is_deleted = excluded.is_deleted,
		updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		id,
		serverID,
		snap.Title,
		snap.Description,
		boolToInt(snap.Completed),
		boolToInt(snap.IsDeleted),
		formatTime(snap.CreatedAt),
		formatTime(snap.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert authority task %s: %w", id, err)
	}

	var effective string
	err = tx.QueryRowContext(ctx, `SELECT server_id FROM authority_tasks WHERE id = ?`, id).Scan(&effective)
	if err != nil {
		return "", fmt.Errorf("failed to read authority task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return effective, nil
}

// UpdateAuthorityTask applies an update payload to authoritative state.
//
// Returns the record's server id and whether it was found; applying against
// a missing id reports found=false without error.
func (s *Store) UpdateAuthorityTask(id string, snap *task.Snapshot) (string, bool, error) {
	return s.UpdateAuthorityTaskContext(context.Background(), id, snap)
}

// UpdateAuthorityTaskContext applies an update payload with context support.
func (s *Store) UpdateAuthorityTaskContext(ctx context.Context, id string, snap *task.Snapshot) (string, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	UPDATE authority_tasks
	SET title = ?, description = ?, completed = ?, is_deleted = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query,
		snap.Title,
		snap.Description,
		boolToInt(snap.Completed),
		boolToInt(snap.IsDeleted),
		formatTime(snap.UpdatedAt),
		id,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to update authority task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to update authority task %s: %w", id, err)
	}
	if affected == 0 {
		return "", false, nil
	}

	var serverID string
	err = tx.QueryRowContext(ctx, `SELECT server_id FROM authority_tasks WHERE id = ?`, id).Scan(&serverID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read authority task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return serverID, true, nil
}

// SoftDeleteAuthorityTask marks an authoritative record deleted.
//
// Returns the record's server id and whether it was found.
func (s *Store) SoftDeleteAuthorityTask(id string) (string, bool, error) {
	return s.SoftDeleteAuthorityTaskContext(context.Background(), id)
}

// SoftDeleteAuthorityTaskContext marks a record deleted with context support.
func (s *Store) SoftDeleteAuthorityTaskContext(ctx context.Context, id string) (string, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE authority_tasks SET is_deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return "", false, fmt.Errorf("failed to delete authority task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to delete authority task %s: %w", id, err)
	}
	if affected == 0 {
		return "", false, nil
	}

	var serverID string
	err = tx.QueryRowContext(ctx, `SELECT server_id FROM authority_tasks WHERE id = ?`, id).Scan(&serverID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read authority task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return serverID, true, nil
}

// GetAuthorityTask retrieves an authoritative record by client id.
// Returns ErrNotFound if absent.
func (s *Store) GetAuthorityTask(id string) (*AuthorityTask, error) {
	return s.GetAuthorityTaskContext(context.Background(), id)
}

// GetAuthorityTaskContext retrieves an authoritative record with context support.
func (s *Store) GetAuthorityTaskContext(ctx context.Context, id string) (*AuthorityTask, error) {
	query := `
	SELECT id, server_id, title, description, completed, is_deleted, created_at, updated_at
	FROM authority_tasks
	WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)

	var a AuthorityTask
	var completed, isDeleted int
	var createdAt, updatedAt string
	err := row.Scan(
		&a.ID,
		&a.ServerID,
		&a.Title,
		&a.Description,
		&completed,
		&isDeleted,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authority task %s: %w", id, err)
	}

	a.Completed = completed != 0
	a.IsDeleted = isDeleted != 0
	if ts, err := parseTime(createdAt); err == nil {
		a.CreatedAt = ts
	}
	if ts, err := parseTime(updatedAt); err == nil {
		a.UpdatedAt = ts
	}
	return &a, nil
}

// AuthorityTaskCount returns the number of authoritative records.
func (s *Store) AuthorityTaskCount() (int, error) {
	return s.AuthorityTaskCountContext(context.Background())
}

// AuthorityTaskCountContext returns the count with context support.
func (s *Store) AuthorityTaskCountContext(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM authority_tasks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count authority tasks: %w", err)
	}
	return count, nil
}
