// Package handler serves the JSON HTTP API over the exchange service.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/websocket"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// Notifier pushes change notifications to connected members.
type Notifier interface {
	Notify(msg websocket.Message, userIDs ...int64)
}

type base struct {
	svc    *exchange.Service
	hub    Notifier
	logger *slog.Logger
}

func (b base) notify(msg websocket.Message, userIDs ...int64) {
	if b.hub != nil {
		b.hub.Notify(msg, userIDs...)
	}
}

func (b base) notifyProgress(action string, p *model.Progress) {
	b.notify(websocket.NewMessage("progress", action, p.ID, map[string]any{
		"status":         p.Status,
		"application_id": p.ApplicationID,
	}), p.ProviderID, p.ConsumerID)
}

// writeError maps exchange error kinds to HTTP statuses. The message is the
// error text verbatim; unexpected errors are logged and hidden.
func (b base) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		b.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func classify(err error) (int, string) {
	var be *ledger.BalanceError
	switch {
	case errors.As(err, &be):
		if be.Side == ledger.SideConsumer {
			return http.StatusBadRequest, "insufficient_balance"
		}
		return http.StatusBadRequest, "balance_cap_exceeded"
	case errors.Is(err, exchange.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, exchange.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, exchange.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, exchange.ErrValidation):
		return http.StatusBadRequest, "validation"
	}
	return http.StatusInternalServerError, "internal"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON", "code": "validation"})
		return false
	}
	return true
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeInvalidID(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id", "code": "validation"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
