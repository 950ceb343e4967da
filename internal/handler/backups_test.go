package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/timebank/internal/backup"
	"github.com/dukerupert/timebank/internal/model"
)

type fakeBackups struct {
	runErr  error
	limit   int
	backups []model.Backup
}

func (f *fakeBackups) RunNow(context.Context) (*model.Backup, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &model.Backup{ID: 7, ObjectKey: "timebank/snap.db.enc", Status: model.BackupStatusCompleted}, nil
}

func (f *fakeBackups) List(_ context.Context, limit int) ([]model.Backup, error) {
	f.limit = limit
	return f.backups, nil
}

func backupHandler(f *fakeBackups) *BackupHandler {
	return NewBackupHandler(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBackupRunStatuses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"success", nil, http.StatusCreated, ""},
		{"disabled", backup.ErrNotConfigured, http.StatusServiceUnavailable, "backups_disabled"},
		{"already running", backup.ErrRunning, http.StatusConflict, "conflict"},
		{"upload failed", errors.New("upload to s3: timeout"), http.StatusBadGateway, "backup_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := backupHandler(&fakeBackups{runErr: tt.err})
			rec := httptest.NewRecorder()
			h.Run(rec, httptest.NewRequest(http.MethodPost, "/api/admin/backups", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", rec.Code, tt.wantCode, rec.Body)
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if tt.wantKind == "" {
				if body["object_key"] != "timebank/snap.db.enc" {
					t.Errorf("body = %v", body)
				}
				return
			}
			if body["code"] != tt.wantKind {
				t.Errorf("code = %v, want %s", body["code"], tt.wantKind)
			}
		})
	}
}

func TestBackupList(t *testing.T) {
	f := &fakeBackups{}
	h := backupHandler(f)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/admin/backups", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.limit != 20 {
		t.Errorf("default limit = %d, want 20", f.limit)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("empty list body = %q, want []", got)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/admin/backups?limit=5", nil))
	if f.limit != 5 {
		t.Errorf("limit = %d, want 5", f.limit)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/admin/backups?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}
