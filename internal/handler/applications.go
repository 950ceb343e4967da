package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/timebank/internal/auth"
	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/websocket"
)

type ApplicationHandler struct {
	base
}

func NewApplicationHandler(svc *exchange.Service, hub Notifier, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{base{svc: svc, hub: hub, logger: logger}}
}

// ListMine lists the applications the caller has made.
func (h *ApplicationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.ListApplicationsForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []model.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *ApplicationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	p, err := h.svc.Accept(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notify(websocket.NewMessage("application", "accepted", id, map[string]any{
		"progress_id": p.ID,
	}), p.ProviderID, p.ConsumerID)
	writeJSON(w, http.StatusCreated, p)
}

func (h *ApplicationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, "rejected", h.svc.Reject)
}

func (h *ApplicationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, "withdrawn", h.svc.Withdraw)
}

func (h *ApplicationHandler) close(w http.ResponseWriter, r *http.Request, action string,
	fn func(ctx context.Context, applicationID, actorID int64) (*model.Application, error)) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	app, err := fn(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recipients := []int64{app.ApplicantID}
	if sv, err := h.svc.GetService(r.Context(), app.ServiceID); err == nil {
		recipients = append(recipients, sv.OwnerID)
	}
	h.notify(websocket.NewMessage("application", action, app.ID, nil), recipients...)
	writeJSON(w, http.StatusOK, app)
}

// Progress returns the engagement created when the application was accepted.
func (h *ApplicationHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	p, err := h.svc.GetProgressByApplication(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ApplicationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ApplicationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), id, auth.UserID(r.Context()), req.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notify(websocket.NewMessage("message", "created", msg.ID, map[string]any{
		"application_id": msg.ApplicationID,
	}), msg.ReceiverID)
	writeJSON(w, http.StatusCreated, msg)
}
