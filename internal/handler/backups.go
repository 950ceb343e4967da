package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/timebank/internal/backup"
	"github.com/dukerupert/timebank/internal/model"
)

// Backups takes and lists database snapshots.
type Backups interface {
	RunNow(ctx context.Context) (*model.Backup, error)
	List(ctx context.Context, limit int) ([]model.Backup, error)
}

type BackupHandler struct {
	backups Backups
	logger  *slog.Logger
}

func NewBackupHandler(backups Backups, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{backups: backups, logger: logger}
}

// Run takes a snapshot now and returns its record.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.RunNow(r.Context())
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error(), "code": "backups_disabled"})
		return
	case errors.Is(err, backup.ErrRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "code": "conflict"})
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "backup failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "backup failed", "code": "backup_failed", "backup": b})
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// List returns recent snapshots, newest first. ?limit defaults to 20.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 200", "code": "validation"})
			return
		}
		limit = n
	}

	backups, err := h.backups.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list backups", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": "internal"})
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, backups)
}
