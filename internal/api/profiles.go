package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/store"
)

// maxPresetBody bounds the body of a preset upsert.
const maxPresetBody = 64 << 10

// GET /api/profiles/{userId}
func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	p, err := h.cfg.Store.GetProfile(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Profile not found")
	case err != nil:
		observe.Logger(r.Context()).Error("fetch profile", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch profile")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

// GET /api/presets?userId=
func (h *handler) listPresets(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query param is required")
		return
	}
	ps, err := h.cfg.Store.ListPresets(r.Context(), userID)
	if err != nil {
		observe.Logger(r.Context()).Error("list presets", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to list presets")
		return
	}
	if ps == nil {
		ps = []store.Preset{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// presetRequest is the body of POST /api/presets. Sending an existing id
// updates that preset and marks it as just used.
type presetRequest struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	PresetName   string `json:"presetName"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
	Background   string `json:"background"`
}

// POST /api/presets
func (h *handler) savePreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPresetBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.PresetName = strings.TrimSpace(req.PresetName)
	if req.UserID == "" || req.PresetName == "" {
		writeError(w, http.StatusBadRequest, "userId and presetName are required")
		return
	}

	p, err := h.cfg.Store.SavePreset(r.Context(), store.Preset{
		ID:           req.ID,
		UserID:       req.UserID,
		PresetName:   req.PresetName,
		Organization: req.Organization,
		Role:         req.Role,
		Background:   req.Background,
	})
	if err != nil {
		observe.Logger(r.Context()).Error("save preset", "user_id", req.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save preset")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
