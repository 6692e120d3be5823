package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/devlink/internal/errors"
	"github.com/openclaw/devlink/internal/httputil"
	"github.com/openclaw/devlink/internal/middleware"
	"github.com/openclaw/devlink/internal/model"
	"github.com/openclaw/devlink/internal/service"
	"github.com/openclaw/devlink/internal/transport"
)

type PairingHandler struct {
	registry       *transport.Registry
	pairingService *service.PairingService
}

func NewPairingHandler(registry *transport.Registry, pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{
		registry:       registry,
		pairingService: pairingService,
	}
}

// Routes returns the authenticated pairing routes. Claim is mounted
// separately: the claiming device has no account token yet.
func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Generate)
	r.Get("/", h.ListPending)
	r.Get("/{sessionID}", h.Status)
	r.Delete("/{sessionID}", h.Cancel)

	return r
}

type generateRequest struct {
	Transport  string `json:"transport"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

// POST /v1/pairings
func (h *PairingHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.TTLSeconds < 0 {
		httputil.WriteError(w, apperrors.InvalidOptions("ttl must not be negative"))
		return
	}

	opts := service.GenerateOptions{
		TTL: time.Duration(req.TTLSeconds) * time.Second,
	}

	result, err := h.registry.Generate(r.Context(), model.Transport(req.Transport), userID, opts)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type claimRequest struct {
	Code      string           `json:"code"`
	Transport string           `json:"transport"`
	Device    model.DeviceInfo `json:"device"`
}

// POST /v1/pairings/claim
func (h *PairingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	conn, err := h.registry.Claim(r.Context(), model.Transport(req.Transport), req.Code, req.Device)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

// GET /v1/pairings/{sessionID}
func (h *PairingHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("sessionID"))
		return
	}

	view, err := h.pairingService.Status(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// DELETE /v1/pairings/{sessionID}
func (h *PairingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.pairingService.Cancel(r.Context(), sessionID, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /v1/pairings
func (h *PairingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sessions, err := h.pairingService.ListPendingSessions(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
