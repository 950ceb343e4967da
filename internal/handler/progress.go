package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/timebank/internal/auth"
	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/websocket"
)

type ProgressHandler struct {
	base
}

func NewProgressHandler(svc *exchange.Service, hub Notifier, logger *slog.Logger) *ProgressHandler {
	return &ProgressHandler{base{svc: svc, hub: hub, logger: logger}}
}

func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	p, err := h.svc.GetProgress(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProgressHandler) ProposeSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	var req exchange.ScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.svc.ProposeSchedule(r.Context(), id, auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notify(websocket.NewMessage("proposal", "created", msg.ID, map[string]any{
		"progress_id": id,
	}), msg.ReceiverID)
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ProgressHandler) ConfirmStart(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	p, err := h.svc.ConfirmStart(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifyProgress("start_confirmed", p)
	writeJSON(w, http.StatusOK, p)
}

func (h *ProgressHandler) MarkFinished(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	p, err := h.svc.MarkFinished(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.notifyProgress("finished", p)
	writeJSON(w, http.StatusOK, p)
}

// SubmitSurvey accepts {"survey_data": {...}}. An empty body submits an
// empty survey.
func (h *ProgressHandler) SubmitSurvey(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	var req struct {
		SurveyData json.RawMessage `json:"survey_data"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body too large", "code": "validation"})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON", "code": "validation"})
			return
		}
	}

	p, err := h.svc.SubmitSurvey(r.Context(), id, auth.UserID(r.Context()), req.SurveyData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	action := "survey_submitted"
	if p.Status == model.ProgressCompleted {
		action = "completed"
	}
	h.notifyProgress(action, p)
	writeJSON(w, http.StatusOK, p)
}
