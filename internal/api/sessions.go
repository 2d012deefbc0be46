package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sharekey"
	"github.com/MrWong99/parley/internal/store"
)

// modeView is the listing form of a mode.
type modeView struct {
	Name               string   `json:"name"`
	Title              string   `json:"title"`
	ProducesReport     bool     `json:"producesReport"`
	Feedback           bool     `json:"feedback"`
	HardTimeoutSeconds int      `json:"hardTimeoutSeconds,omitempty"`
	DisplayMetrics     []string `json:"displayMetrics,omitempty"`
}

func newModeView(d mode.Definition) modeView {
	return modeView{
		Name:               d.Name,
		Title:              d.Title,
		ProducesReport:     d.ProducesReport,
		Feedback:           d.Feedback,
		HardTimeoutSeconds: int(d.HardTimeout.Seconds()),
		DisplayMetrics:     d.DisplayMetrics,
	}
}

// GET /api/modes
func (h *handler) listModes(w http.ResponseWriter, _ *http.Request) {
	defs := h.cfg.Modes.List()
	out := make([]modeView, len(defs))
	for i, d := range defs {
		out[i] = newModeView(d)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/sessions?userId=
func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query param is required")
		return
	}
	sums, err := h.cfg.Store.ListByUser(r.Context(), userID)
	if err != nil {
		observe.Logger(r.Context()).Error("list sessions", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sums == nil {
		sums = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

// credentials reads the userId and key query parameters.
func credentials(r *http.Request) sharekey.Credentials {
	q := r.URL.Query()
	return sharekey.Credentials{UserID: q.Get("userId"), Key: q.Get("key")}
}

// authorize loads the session named by the id path parameter and writes the
// error response when c may not read it. ok is false when a response was
// written.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request, c sharekey.Credentials) (store.Record, sharekey.AccessLevel, bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	rec, level, err := sharekey.Authorize(ctx, h.cfg.Store, id, c)
	switch {
	case err == nil:
		h.metrics.RecordShareAccess(ctx, string(level))
		return rec, level, true
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, sharekey.ErrMissingCredential):
		writeError(w, http.StatusForbidden, "userId or key required")
	case errors.Is(err, sharekey.ErrForbidden):
		h.metrics.RecordShareAccess(ctx, "denied")
		if c.Key != "" {
			writeError(w, http.StatusForbidden, "Invalid share key")
		} else {
			writeError(w, http.StatusForbidden, "Forbidden")
		}
	default:
		observe.Logger(ctx).Error("fetch session", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch session")
	}
	return store.Record{}, sharekey.None, false
}

// GET /api/sessions/{id}?userId=|key=
func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	rec, level, ok := h.authorize(w, r, credentials(r))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sharekey.NewView(rec, level))
}

// GET /api/share/{id}/{key}
func (h *handler) getShared(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	rec, level, ok := h.authorize(w, r, sharekey.Credentials{Key: key})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sharekey.NewView(rec, level))
}

// GET /api/sessions/{id}/report?userId=|key=
func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	rec, _, ok := h.authorize(w, r, credentials(r))
	if !ok {
		return
	}
	if rec.Report == nil {
		writeError(w, http.StatusNotFound, "Session report not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.Report)
}

// GET /api/sessions/{id}/share?userId=
//
// Only the owner may read the keys; a share key never grants this.
func (h *handler) getShareKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	rec, level, ok := h.authorize(w, r, sharekey.Credentials{UserID: userID})
	if !ok {
		return
	}
	if level != sharekey.Owner {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}
	writeJSON(w, http.StatusOK, sharekey.Compute(rec.ID, rec.UserID))
}
