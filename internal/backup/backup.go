// Package backup snapshots the database, encrypts the snapshot and ships it
// to S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
)

var (
	ErrNotConfigured = errors.New("backups are not configured")
	ErrRunning       = errors.New("a backup is already running")
	ErrNotFound      = errors.New("backup not found")
)

// s3Client is the subset of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3         S3Config
	Prefix     string
	Passphrase string
	// Interval between scheduled snapshots. Zero disables the schedule;
	// RunNow still works.
	Interval time.Duration
	// Retention is how long snapshots are kept. Zero keeps them forever.
	Retention time.Duration
}

// Manager takes encrypted snapshots of the database.
type Manager struct {
	mu      sync.RWMutex
	running sync.Mutex
	cfg     Config
	db      *sql.DB
	store   *store.BackupStore
	client  s3Client
	onRun   []func(*model.Backup, error)
	logger  *slog.Logger
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. Without complete S3 settings it is disabled
// and every operation returns ErrNotConfigured. Each onRun hook is called
// after every snapshot attempt.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger, onRun ...func(*model.Backup, error)) *Manager {
	m := &Manager{
		cfg:    cfg,
		db:     db,
		store:  store.NewBackupStore(db),
		onRun:  onRun,
		logger: logger,
		now:    time.Now,
	}
	if cfg.S3.complete() {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether object storage is configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins scheduled snapshots. It is a no-op when the manager is
// disabled or has no interval.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the schedule.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) tick(ctx context.Context) {
	if _, err := m.RunNow(ctx); err != nil && !errors.Is(err, ErrRunning) {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if _, err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow snapshots the database and uploads it. Only one snapshot runs at a
// time; a concurrent call returns ErrRunning.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	m.mu.RLock()
	client, cfg := m.client, m.cfg
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrNotConfigured
	}
	if !m.running.TryLock() {
		return nil, ErrRunning
	}
	defer m.running.Unlock()

	started := m.now().UTC().Truncate(time.Second)
	key := path.Join(cfg.Prefix, fmt.Sprintf("timebank-%s-%s.db.enc",
		started.Format("2006-01-02T150405Z"), uuid.NewString()[:8]))

	rec, err := m.store.Create(ctx, key, started)
	if err != nil {
		return nil, err
	}

	size, err := m.upload(ctx, client, cfg, rec)
	if err != nil {
		if serr := m.store.SetStatus(context.WithoutCancel(ctx), rec.ID, model.BackupStatusFailed, err.Error()); serr != nil {
			m.logger.Error("record backup failure", "backup_id", rec.ID, "error", serr)
		}
	} else {
		err = m.store.Complete(ctx, rec.ID, size, m.now())
	}

	if got, gerr := m.store.GetByID(context.WithoutCancel(ctx), rec.ID); gerr == nil && got != nil {
		rec = got
	}
	for _, fn := range m.onRun {
		fn(rec, err)
	}
	if err != nil {
		return rec, fmt.Errorf("backup %s: %w", key, err)
	}
	m.logger.Info("backup uploaded", "backup_id", rec.ID, "key", key, "size_bytes", size)
	return rec, nil
}

func (m *Manager) upload(ctx context.Context, client s3Client, cfg Config, rec *model.Backup) (int64, error) {
	dir, err := os.MkdirTemp("", "timebank-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// VACUUM INTO writes a consistent copy without blocking readers.
	snapshot := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return 0, fmt.Errorf("snapshot database: %w", err)
	}
	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Seal(plaintext, cfg.Passphrase)
	if err != nil {
		return 0, err
	}

	if err := m.store.SetStatus(ctx, rec.ID, model.BackupStatusUploading, ""); err != nil {
		return 0, err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.S3.Bucket),
		Key:           aws.String(rec.ObjectKey),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return int64(len(sealed)), nil
}

// List returns recent backups, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	return m.store.List(ctx, limit)
}

// Fetch downloads backup id, decrypts it and writes the database to dst
// after an integrity check. The running database is never touched.
func (m *Manager) Fetch(ctx context.Context, id int64, dst string) error {
	m.mu.RLock()
	client, cfg := m.client, m.cfg
	m.mu.RUnlock()
	if client == nil {
		return ErrNotConfigured
	}

	rec, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != model.BackupStatusCompleted {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.S3.Bucket),
		Key:    aws.String(rec.ObjectKey),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read download: %w", err)
	}
	plaintext, err := Open(sealed, cfg.Passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, plaintext, 0o600); err != nil {
		return fmt.Errorf("write restored database: %w", err)
	}
	if err := checkIntegrity(ctx, dst); err != nil {
		os.Remove(dst)
		return err
	}
	m.logger.Info("backup fetched", "backup_id", id, "path", dst)
	return nil
}

func checkIntegrity(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Cleanup deletes backups older than the retention period and returns how
// many objects were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.mu.RLock()
	client, cfg := m.client, m.cfg
	m.mu.RUnlock()
	if client == nil || cfg.Retention <= 0 {
		return 0, nil
	}

	keys, err := m.store.DeleteOlderThan(ctx, m.now().Add(-cfg.Retention))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete expired backup object", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
