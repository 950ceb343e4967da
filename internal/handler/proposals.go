package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/timebank/internal/auth"
	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/websocket"
)

type ProposalHandler struct {
	base
}

func NewProposalHandler(svc *exchange.Service, hub Notifier, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{base{svc: svc, hub: hub, logger: logger}}
}

// Respond accepts {"accept": true|false}.
func (h *ProposalHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	var req struct {
		Accept *bool `json:"accept"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Accept == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "accept is required", "code": "validation"})
		return
	}

	resp, err := h.svc.RespondSchedule(r.Context(), id, auth.UserID(r.Context()), *req.Accept)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	action := "scheduled"
	if resp.Proposal.Proposal.Status == model.ProposalRejected {
		action = "cancelled"
	}
	h.notifyProgress(action, resp.Progress)
	writeJSON(w, http.StatusOK, resp)
}

func (h *ProposalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	msg, err := h.svc.CancelProposal(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notify(websocket.NewMessage("proposal", "cancelled", msg.ID, nil), msg.ReceiverID)
	writeJSON(w, http.StatusOK, msg)
}
