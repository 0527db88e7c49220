package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkirch/taskrelay/internal/task"
)

// RecordSyncPass appends one pass summary to the sync log.
func (s *Store) RecordSyncPass(rec *task.PassRecord) error {
	return s.RecordSyncPassContext(context.Background(), rec)
}

// RecordSyncPassContext appends a pass summary with context support.
func (s *Store) RecordSyncPassContext(ctx context.Context, rec *task.PassRecord) error {
	query := `
	INSERT INTO sync_log (started_at, finished_at, success, synced_items, failed_items, error_count)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		boolToInt(rec.Success),
		rec.SyncedItems,
		rec.FailedItems,
		rec.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync pass: %w", err)
	}
	return nil
}

// ListSyncPasses returns recorded passes, newest first. since limits the
// result to passes finished at or after the given time (nil = all); limit
// caps the count (0 = no limit).
func (s *Store) ListSyncPasses(since *time.Time, limit int) ([]*task.PassRecord, error) {
	return s.ListSyncPassesContext(context.Background(), since, limit)
}

// ListSyncPassesContext returns recorded passes with context support.
func (s *Store) ListSyncPassesContext(ctx context.Context, since *time.Time, limit int) ([]*task.PassRecord, error) {
	query := `
	SELECT id, started_at, finished_at, success, synced_items, failed_items, error_count
	FROM sync_log
	`
	var args []interface{}

	if since != nil {
		query += ` WHERE finished_at >= ?`
		args = append(args, formatTime(*since))
	}

	query += ` ORDER BY finished_at DESC, id DESC`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync passes: %w", err)
	}
	defer rows.Close()

	var passes []*task.PassRecord
	for rows.Next() {
		var rec task.PassRecord
		var startedAt, finishedAt string
		var success int

		err := rows.Scan(
			&rec.ID,
			&startedAt,
			&finishedAt,
			&success,
			&rec.SyncedItems,
			&rec.FailedItems,
			&rec.ErrorCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync pass: %w", err)
		}

		rec.Success = success != 0
		if ts, err := parseTime(startedAt); err == nil {
			rec.StartedAt = ts
		}
		if ts, err := parseTime(finishedAt); err == nil {
			rec.FinishedAt = ts
		}

		passes = append(passes, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync passes: %w", err)
	}
	return passes, nil
}

// LastSyncTime returns when the most recent successful pass finished, or
// nil if no pass has succeeded yet.
func (s *Store) LastSyncTime() (*time.Time, error) {
	return s.LastSyncTimeContext(context.Background())
}

// LastSyncTimeContext returns the last successful pass time with context support.
func (s *Store) LastSyncTimeContext(ctx context.Context) (*time.Time, error) {
	query := `
	SELECT finished_at
	FROM sync_log
	WHERE success = 1
	ORDER BY finished_at DESC
	LIMIT 1
	`
	var finishedAt string
	err := s.conn.QueryRowContext(ctx, query).Scan(&finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}

	ts, err := parseTime(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return &ts, nil
}
