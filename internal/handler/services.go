package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/timebank/internal/auth"
	"github.com/dukerupert/timebank/internal/exchange"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/dukerupert/timebank/internal/websocket"
)

type ServiceHandler struct {
	base
}

func NewServiceHandler(svc *exchange.Service, hub Notifier, logger *slog.Logger) *ServiceHandler {
	return &ServiceHandler{base{svc: svc, hub: hub, logger: logger}}
}

type serviceRequest struct {
	Type          model.ServiceType `json:"service_type"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	HoursRequired decimal.Decimal   `json:"hours_required"`
}

func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sv, err := h.svc.CreateService(r.Context(), auth.UserID(r.Context()), req.Type, req.Title, req.Description, req.HoursRequired)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sv)
}

func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	services, err := h.svc.ListOpenServices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if services == nil {
		services = []model.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	sv, err := h.svc.GetService(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (h *ServiceHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	app, err := h.svc.Apply(r.Context(), id, auth.UserID(r.Context()), req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if sv, err := h.svc.GetService(r.Context(), app.ServiceID); err == nil {
		h.notify(websocket.NewMessage("application", "created", app.ID, map[string]any{
			"service_id": app.ServiceID,
		}), sv.OwnerID)
	}
	writeJSON(w, http.StatusCreated, app)
}

// Applications lists a service's applications for its owner.
func (h *ServiceHandler) Applications(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeInvalidID(w)
		return
	}

	apps, err := h.svc.ListApplicationsForService(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []model.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}
