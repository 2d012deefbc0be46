package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/store"
)

// GET /ws?mode=&userId=&organization=&role=&background=&originalSessionId=
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn := protocol.NewConn(ws, h.cfg.ReadLimit)

	// The request context of a hijacked connection is not cancelled when the
	// client leaves; the session notices through its reader instead.
	ctx := r.Context()
	q := r.URL.Query()

	name := q.Get("mode")
	def, ok := h.cfg.Modes.Lookup(name)
	if !ok {
		log.Warn("rejected connection with unknown mode", "mode", name)
		_ = conn.WriteMessage(ctx, protocol.Error("Invalid mode: "+name))
		_ = conn.Close("invalid mode")
		return
	}

	// Share keys derive from the owner; an anonymous session could not be
	// shared safely.
	if q.Get("userId") == "" {
		log.Warn("rejected connection without userId", "mode", name)
		_ = conn.WriteMessage(ctx, protocol.Error("userId is required"))
		_ = conn.Close("missing userId")
		return
	}

	cfg, err := h.sessionConfig(ctx, def, q)
	if err != nil {
		log.Error("prepare session", "mode", name, "err", err)
		_ = conn.WriteMessage(ctx, protocol.Error("Failed to prepare session"))
		_ = conn.Close("internal error")
		return
	}

	sess := session.New(cfg)
	if err := h.cfg.Sessions.Run(ctx, sess, conn); err != nil {
		log.Warn("session not run", "session_id", cfg.ID, "err", err)
		_ = conn.WriteMessage(ctx, protocol.Error("Server unavailable"))
	}
	_ = conn.Close("session ended")
}

// sessionConfig builds the configuration of a new session from the
// connection parameters: prompt, profile, voice and the feedback context.
func (h *handler) sessionConfig(ctx context.Context, def mode.Definition, q url.Values) (session.Config, error) {
	userID := q.Get("userId")

	tmpl, err := h.cfg.Prompts.Load(def)
	if err != nil {
		return session.Config{}, err
	}

	var profile *store.Profile
	if userID != "" {
		p, err := h.cfg.Store.GetProfile(ctx, userID)
		switch {
		case err == nil:
			profile = &p
		case !errors.Is(err, store.ErrNotFound):
			// A missing profile only weakens the prompt.
			observe.Logger(ctx).Warn("fetch profile", "user_id", userID, "err", err)
		}
	}

	instructions := prompt.Render(tmpl, prompt.Context{
		Organization: q.Get("organization"),
		Role:         q.Get("role"),
		Background:   q.Get("background"),
		UserProfile:  prompt.ProfileText(profile),
	})
	voice := prompt.PickVoice(h.cfg.Voices())

	if origID := q.Get("originalSessionId"); def.Feedback && origID != "" {
		orig, err := h.originalSession(ctx, origID, userID)
		if err != nil {
			observe.Logger(ctx).Warn("feedback without original session", "original_session_id", origID, "err", err)
		} else {
			instructions = prompt.WithFeedback(instructions, prompt.FeedbackContext(orig))
			if orig.VoiceName != "" {
				voice = orig.VoiceName
			}
		}
	}

	cfg := h.cfg.SessionDefaults
	cfg.ID = uuid.NewString()
	cfg.UserID = userID
	cfg.Mode = def
	cfg.VoiceName = voice
	cfg.Instructions = instructions
	return cfg, nil
}

// originalSession loads the session a feedback session debriefs. Only the
// owner may debrief a session.
func (h *handler) originalSession(ctx context.Context, id, userID string) (store.Record, error) {
	rec, err := h.cfg.Store.Get(ctx, id)
	if err != nil {
		return store.Record{}, err
	}
	if rec.UserID != userID {
		return store.Record{}, fmt.Errorf("session %s belongs to another user", id)
	}
	return rec, nil
}
