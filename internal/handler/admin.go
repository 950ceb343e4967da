package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/timebank/internal/exchange"
)

// SweepRunner runs one expired-survey sweep on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) (exchange.SweepResult, error)
}

type AdminHandler struct {
	base
	sweeper SweepRunner
}

func NewAdminHandler(svc *exchange.Service, sweeper SweepRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{base: base{svc: svc, logger: logger}, sweeper: sweeper}
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateUser registers a member. Identity lives elsewhere; this only opens
// the time account.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.svc.CreateUser(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type TestingHandler struct {
	base
}

func NewTestingHandler(svc *exchange.Service, logger *slog.Logger) *TestingHandler {
	return &TestingHandler{base{svc: svc, logger: logger}}
}

// SetBalance overwrites a user's balance. Mounted only when testing
// endpoints are enabled.
func (h *TestingHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      int64           `json:"user_id"`
		TimeBalance decimal.Decimal `json:"time_balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := h.svc.SetBalanceForTesting(r.Context(), req.UserID, req.TimeBalance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
