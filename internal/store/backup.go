package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/timebank/internal/model"
)

// BackupStore tracks snapshot uploads. Backups are bookkeeping outside the
// exchange, so the store is not part of Stores.
type BackupStore struct {
	db DBTX
}

func NewBackupStore(db DBTX) *BackupStore {
	return &BackupStore{db: db}
}

const backupCols = `id, object_key, size_bytes, status, error_message, started_at, completed_at, created_at, updated_at`

func scanBackup(scanner interface{ Scan(...any) error }) (*model.Backup, error) {
	var b model.Backup
	var completedAt sql.NullTime
	err := scanner.Scan(&b.ID, &b.ObjectKey, &b.SizeBytes, &b.Status, &b.ErrorMessage,
		&b.StartedAt, &completedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.StartedAt = b.StartedAt.UTC()
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

func (s *BackupStore) Create(ctx context.Context, objectKey string, startedAt time.Time) (*model.Backup, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO backups (object_key, status, started_at) VALUES (?, ?, ?)`,
		objectKey, model.BackupStatusPending, startedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *BackupStore) GetByID(ctx context.Context, id int64) (*model.Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupCols+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

// List returns the most recent backups first.
func (s *BackupStore) List(ctx context.Context, limit int) ([]model.Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupCols+` FROM backups ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (s *BackupStore) SetStatus(ctx context.Context, id int64, status model.BackupStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update backup status: %w", err)
	}
	return expectOne(res)
}

func (s *BackupStore) Complete(ctx context.Context, id, sizeBytes int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, size_bytes = ?, completed_at = ?, error_message = '', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		model.BackupStatusCompleted, sizeBytes, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("complete backup: %w", err)
	}
	return expectOne(res)
}

// DeleteOlderThan removes completed and failed backups started before the
// cutoff and returns the object keys of the removed completed ones.
func (s *BackupStore) DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM backups
		 WHERE started_at < ? AND status IN (?, ?)
		 RETURNING object_key, status`,
		before.UTC(), model.BackupStatusCompleted, model.BackupStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		var status model.BackupStatus
		if err := rows.Scan(&key, &status); err != nil {
			return nil, fmt.Errorf("scan deleted backup: %w", err)
		}
		if status == model.BackupStatusCompleted {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}
