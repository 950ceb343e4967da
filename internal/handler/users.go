package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/timebank/internal/auth"
	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/model"
)

type UserHandler struct {
	base
}

func NewUserHandler(svc *exchange.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{base{svc: svc, logger: logger}}
}

// ownID parses the path id and checks the caller may read it: members see
// their own account, admins see any.
func (h *UserHandler) ownID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return 0, false
	}
	if id != auth.UserID(r.Context()) && !auth.IsAdmin(r.Context()) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "you can only view your own account", "code": "unauthorized"})
		return 0, false
	}
	return id, true
}

func (h *UserHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownID(w, r)
	if !ok {
		return
	}

	b, err := h.svc.Balance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *UserHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownID(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.LedgerHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
