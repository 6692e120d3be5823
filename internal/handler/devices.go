package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/httputil"
	"github.com/openclaw/devlink/internal/middleware"
	"github.com/openclaw/devlink/internal/model"
	"github.com/openclaw/devlink/internal/service"
)

type DeviceHandler struct {
	pairingService *service.PairingService
}

func NewDeviceHandler(pairingService *service.PairingService) *DeviceHandler {
	return &DeviceHandler{pairingService: pairingService}
}

func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Delete("/{deviceID}", h.Disconnect)
	r.Post("/{deviceID}/reconnect", h.Reconnect)
	r.Post("/{deviceID}/heartbeat", h.Heartbeat)

	return r
}

// GET /v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	devices, err := h.pairingService.ListConnectedDevices(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// DELETE /v1/devices/{deviceID}
func (h *DeviceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	conn, err := h.pairingService.Disconnect(r.Context(), deviceID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

type reconnectRequest struct {
	Transport string `json:"transport"`
}

// POST /v1/devices/{deviceID}/reconnect
func (h *DeviceHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	var req reconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	conn, err := h.pairingService.Reconnect(r.Context(), deviceID, userID, model.Transport(req.Transport))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

// POST /v1/devices/{deviceID}/heartbeat
func (h *DeviceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	conn, err := h.pairingService.Heartbeat(r.Context(), deviceID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conn)
}
