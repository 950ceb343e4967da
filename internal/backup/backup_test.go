package backup

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/timebank/internal/database"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func (m *mockS3Client) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var testS3 = S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"}

func setupManager(t *testing.T, cfg Config, onRun ...func(*model.Backup, error)) (*Manager, *mockS3Client, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if cfg.S3 == (S3Config{}) {
		cfg.S3 = testS3
	}
	if cfg.Passphrase == "" {
		cfg.Passphrase = "correct horse battery staple"
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, db, logger, onRun...)
	mock := newMockS3()
	m.client = mock
	return m, mock, db
}

func TestDisabledManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(Config{Interval: time.Hour}, nil, logger)
	if m.Enabled() {
		t.Fatal("manager without bucket should be disabled")
	}
	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("RunNow error = %v, want ErrNotConfigured", err)
	}
	if err := m.Fetch(context.Background(), 1, filepath.Join(t.TempDir(), "x.db")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Fetch error = %v, want ErrNotConfigured", err)
	}
	if n, err := m.Cleanup(context.Background()); n != 0 || err != nil {
		t.Errorf("Cleanup = %d, %v; want 0, nil", n, err)
	}

	m.Start(context.Background())
	m.Stop()
}

func TestEnabledWithCompleteS3Config(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(Config{S3: testS3, Passphrase: "p"}, nil, logger)
	if !m.Enabled() {
		t.Fatal("manager with bucket and credentials should be enabled")
	}
}

func TestRunNowAndFetch(t *testing.T) {
	var hooked []*model.Backup
	m, mock, db := setupManager(t, Config{Prefix: "snapshots"}, func(b *model.Backup, err error) {
		if err != nil {
			t.Errorf("hook got error: %v", err)
		}
		hooked = append(hooked, b)
	})
	ctx := context.Background()

	u, err := store.NewUserStore(db).Create(ctx, "Ada", decimal.RequireFromString("2.5"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if b.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want completed", b.Status)
	}
	if !strings.HasPrefix(b.ObjectKey, "snapshots/timebank-") {
		t.Errorf("object key = %q", b.ObjectKey)
	}
	if mock.count() != 1 {
		t.Fatalf("uploaded objects = %d, want 1", mock.count())
	}
	if b.SizeBytes != int64(len(mock.objects[b.ObjectKey])) {
		t.Errorf("size = %d, want %d", b.SizeBytes, len(mock.objects[b.ObjectKey]))
	}
	if len(hooked) != 1 || hooked[0].ID != b.ID {
		t.Errorf("hooks = %+v", hooked)
	}

	list, err := m.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("List = %+v", list)
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Fetch(ctx, b.ID, dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	restored, err := sql.Open("sqlite", dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	var name string
	if err := restored.QueryRow("SELECT name FROM users WHERE id = ?", u.ID).Scan(&name); err != nil {
		t.Fatalf("query restored users: %v", err)
	}
	if name != "Ada" {
		t.Errorf("restored name = %q, want Ada", name)
	}
}

func TestFetchWrongPassphrase(t *testing.T) {
	m, _, _ := setupManager(t, Config{})
	ctx := context.Background()

	b, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	m.cfg.Passphrase = "something else"
	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Fetch(ctx, b.ID, dst); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Fetch error = %v, want ErrDecrypt", err)
	}
}

func TestUploadFailureIsRecorded(t *testing.T) {
	var hookErr error
	m, mock, _ := setupManager(t, Config{}, func(_ *model.Backup, err error) { hookErr = err })
	mock.putErr = errors.New("connection refused")
	ctx := context.Background()

	b, err := m.RunNow(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if hookErr == nil {
		t.Error("hook should receive the error")
	}
	if b == nil || b.Status != model.BackupStatusFailed {
		t.Fatalf("backup = %+v, want failed", b)
	}
	if b.ErrorMessage == "" {
		t.Error("failed backup should record the error message")
	}

	if err := m.Fetch(ctx, b.ID, filepath.Join(t.TempDir(), "x.db")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch of failed backup = %v, want ErrNotFound", err)
	}
}

func TestRunNowWhileRunning(t *testing.T) {
	m, _, _ := setupManager(t, Config{})
	m.running.Lock()
	defer m.running.Unlock()

	if _, err := m.RunNow(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("RunNow error = %v, want ErrRunning", err)
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	m, mock, _ := setupManager(t, Config{Retention: 24 * time.Hour})
	ctx := context.Background()

	if _, err := m.RunNow(ctx); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	n, err := m.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 || mock.count() != 1 {
		t.Fatalf("fresh backup removed: n=%d objects=%d", n, mock.count())
	}

	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = m.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 || mock.count() != 0 {
		t.Errorf("expired backup kept: n=%d objects=%d", n, mock.count())
	}
	list, _ := m.List(ctx, 10)
	if len(list) != 0 {
		t.Errorf("List after cleanup = %d records, want 0", len(list))
	}
}

func TestCleanupWithoutRetention(t *testing.T) {
	m, mock, _ := setupManager(t, Config{})
	ctx := context.Background()
	if _, err := m.RunNow(ctx); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	m.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
	if n, err := m.Cleanup(ctx); n != 0 || err != nil {
		t.Errorf("Cleanup = %d, %v; want 0, nil", n, err)
	}
	if mock.count() != 1 {
		t.Errorf("objects = %d, want 1", mock.count())
	}
}
