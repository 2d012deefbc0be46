package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/insight"
	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// Texts sent to the upstream model.
const (
	OpeningTurn = "Hello! Let's begin the scenario."
	PauseTurn   = "SYSTEM: The user has paused the session. Please stand by. CRITICAL: Do NOT acknowledge this message. Do NOT say 'ok' or make any comment about pausing. Remain completely silent."
	ResumeTurn  = "SYSTEM: The user has resumed the session. You may continue the conversation. CRITICAL: Do NOT acknowledge this message. Do NOT make any comment about resuming or pausing. Just continue naturally from where we left off."
)

// Texts sent to the client.
const (
	UserCuePrefix        = "[User]: "
	MsgSessionCompleted  = "Session completed"
	MsgAIInterrupted     = "AI connection interrupted"
	MsgAISessionError    = "AI session error"
	MsgConnectFailed     = "Failed to connect to AI. Check your API key."
	MsgReportFailed      = "Failed to generate report. Please try again."
	MsgSaveFailed        = "Failed to save session"
	MsgDurationExhausted = "Maximum session duration reached."
)

// Timeouts of the work done after a session ends.
const (
	DefaultFinalizeTimeout = 2 * time.Minute
	DefaultProfileTimeout  = 2 * time.Minute
	writeTimeout           = 5 * time.Second
)

// ClientConn is the client side of a session. [protocol.Conn] implements it.
type ClientConn interface {
	Read(ctx context.Context) (protocol.Frame, error)
	WriteMessage(ctx context.Context, msg protocol.Message) error
	WriteAudio(ctx context.Context, pcm []byte) error
}

// Reporter scores a finished session. The report is always usable; a
// non-nil error means it is a fallback.
type Reporter interface {
	Generate(ctx context.Context, in insight.ReportInput) (store.Report, error)
}

// Profiler folds a finished session into the user's profile.
type Profiler interface {
	Update(ctx context.Context, in insight.ProfileInput) (store.Profile, error)
}

// Config holds the collaborators and settings of one session.
type Config struct {
	ID           string
	UserID       string
	Mode         mode.Definition
	VoiceName    string
	Instructions string

	Upstream s2s.Provider
	Store    store.Store

	// Reporter is required for modes that produce reports.
	Reporter Reporter

	// Profiler and Classifier are optional.
	Profiler   Profiler
	Classifier analytics.Classifier

	Metrics *observe.Metrics

	// MaxDuration ends the session after this much wall-clock time. Zero
	// disables the limit.
	MaxDuration time.Duration

	// UserThreshold and AssistantThreshold override the transcript flush
	// word thresholds when positive.
	UserThreshold      int
	AssistantThreshold int

	ToneOptions     []analytics.ToneOption
	Retry           RetryPolicy
	FinalizeTimeout time.Duration

	// Now overrides time.Now. Used in tests.
	Now func() time.Time
}

type connectResult struct {
	handle s2s.SessionHandle
	err    error
}

type finalizeResult struct {
	report    *store.Report
	reportErr error
	saveErr   error
}

// Session is one live conversation. Create it with [New] and drive it with
// [Session.Run].
type Session struct {
	cfg     Config
	state   *State
	tone    *analytics.ToneScheduler
	metrics *observe.Metrics
	now     func() time.Time
	log     *slog.Logger

	status atomic.Int32

	endOnce   sync.Once
	endCh     chan struct{}
	endReason EndReason

	done chan struct{}
	bg   sync.WaitGroup

	// Owned by the event loop.
	handle         s2s.SessionHandle
	events         <-chan s2s.Event
	upstreamClosed bool
	clientGone     bool
	reason         EndReason
	becameReady    bool
	toneCh         chan analytics.ToneOutcome
}

// New returns a connecting session.
func New(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	st := NewState(cfg.ID, cfg.UserID, cfg.Mode, cfg.Now(), cfg.UserThreshold, cfg.AssistantThreshold)
	st.VoiceName = cfg.VoiceName
	st.Instructions = cfg.Instructions

	toneOpts := append([]analytics.ToneOption{analytics.WithClock(cfg.Now)}, cfg.ToneOptions...)
	return &Session{
		cfg:     cfg,
		state:   st,
		tone:    analytics.NewToneScheduler(cfg.Classifier, toneOpts...),
		metrics: cfg.Metrics,
		now:     cfg.Now,
		endCh:   make(chan struct{}),
		done:    make(chan struct{}),
		toneCh:  make(chan analytics.ToneOutcome, 1),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Mode returns the session's mode name.
func (s *Session) Mode() string { return s.cfg.Mode.Name }

// Status returns the current lifecycle position. Safe for concurrent use.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Done is closed when the session reached [StatusClosed].
func (s *Session) Done() <-chan struct{} { return s.done }

// RequestEnd asks the session to end. Only the first request has effect;
// it is safe to call from any goroutine at any time.
func (s *Session) RequestEnd(reason EndReason) {
	s.endOnce.Do(func() {
		s.endReason = reason
		close(s.endCh)
	})
}

// Wait blocks until detached work started by the session, such as the
// profile update, has finished.
func (s *Session) Wait() { s.bg.Wait() }

// Run drives the session until it is closed. Cancelling ctx ends the session
// with [EndShutdown]; the final report and persistence still complete, bounded
// by the finalize timeout. Run must be called at most once.
func (s *Session) Run(ctx context.Context, client ClientConn) error {
	defer close(s.done)

	ctx = observe.WithAttrs(ctx,
		"session_id", s.cfg.ID,
		"user_id", s.cfg.UserID,
		"mode", s.cfg.Mode.Name,
	)
	s.log = observe.Logger(ctx)
	shutdown := ctx.Done()
	ctx = context.WithoutCancel(ctx)
	s.metrics.RecordSessionStart(ctx, s.cfg.Mode.Name)
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan protocol.Frame)
	clientGone := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(clientGone)
		for {
			f, err := client.Read(sctx)
			if err != nil {
				if sctx.Err() == nil {
					s.log.Debug("client read ended", "err", err)
				}
				return nil
			}
			select {
			case frames <- f:
			case <-sctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return s.loop(sctx, shutdown, client, frames, clientGone)
	})
	return g.Wait()
}

func (s *Session) loop(ctx context.Context, shutdown <-chan struct{}, client ClientConn, frames <-chan protocol.Frame, clientGone <-chan struct{}) error {
	s.log.Info("session created", "voice", s.cfg.VoiceName)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	connectCh := make(chan connectResult)
	go func() {
		h, err := connectUpstream(connCtx, s.cfg.Upstream, s2s.SessionConfig{
			Voice:        s.cfg.VoiceName,
			Instructions: s.cfg.Instructions,
			Transcribe:   true,
		}, s.cfg.Retry, s.metrics)
		select {
		case connectCh <- connectResult{handle: h, err: err}:
		case <-connCtx.Done():
			if h != nil {
				_ = h.Close()
			}
		}
	}()

	var hardTimeout, maxDuration <-chan time.Time
	if d := s.cfg.Mode.HardTimeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		hardTimeout = t.C
	}
	if d := s.cfg.MaxDuration; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		maxDuration = t.C
	}

	endCh := s.endCh
	var finalizeCh chan finalizeResult
	end := func(reason EndReason) {
		if ch := s.beginEnd(ctx, client, reason, connCancel); ch != nil {
			finalizeCh = ch
		}
	}

	for {
		select {
		case res := <-connectCh:
			connectCh = nil
			if !s.onConnected(ctx, client, res) {
				end(EndConnectFailed)
			}

		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				if !s.upstreamClosed {
					// The stream ended without a close report.
					s.onUpstreamEvent(ctx, client, s2s.Event{Type: s2s.EventClosed, Code: 1006, Reason: "event stream ended"})
				}
				continue
			}
			s.onUpstreamEvent(ctx, client, ev)

		case f := <-frames:
			s.onClientFrame(ctx, client, f)

		case <-clientGone:
			clientGone = nil
			s.clientGone = true
			s.log.Info("client disconnected")
			end(EndDisconnect)

		case <-endCh:
			endCh = nil
			end(s.endReason)

		case <-shutdown:
			shutdown = nil
			end(EndShutdown)

		case <-hardTimeout:
			hardTimeout = nil
			if s.state.Status() < StatusEnding {
				s.send(ctx, client, protocol.Error(timeLimitMessage(s.cfg.Mode)))
			}
			end(EndTimeout)

		case <-maxDuration:
			maxDuration = nil
			if s.state.Status() < StatusEnding {
				s.send(ctx, client, protocol.Error(MsgDurationExhausted))
			}
			end(EndMaxDuration)

		case out := <-s.toneCh:
			s.onTone(ctx, client, out)

		case res := <-finalizeCh:
			s.onFinalized(ctx, client, res)
			return nil
		}

		if s.state.Status() == StatusClosed {
			return nil
		}
	}
}

func (s *Session) setStatus(next Status) bool {
	if !s.state.advance(next) {
		return false
	}
	s.status.Store(int32(next))
	s.log.Debug("session status", "status", next.String())
	return true
}

// onConnected installs the upstream handle. It reports false when the
// connection failed and the session has to end.
func (s *Session) onConnected(ctx context.Context, client ClientConn, res connectResult) bool {
	ending := s.state.Status() >= StatusEnding
	if res.err != nil {
		if ending {
			return true
		}
		s.log.Error("upstream connect failed", "err", res.err)
		s.send(ctx, client, protocol.Error(MsgConnectFailed))
		return false
	}
	if ending {
		_ = res.handle.Close()
		return true
	}
	s.handle = res.handle
	s.events = res.handle.Events()
	s.log.Info("upstream connected, waiting for setup")
	return true
}

// beginEnd moves the session to ending exactly once. It returns the channel
// delivering the finalize result, or nil when there is nothing to finalize,
// in which case the session is already closed.
func (s *Session) beginEnd(ctx context.Context, client ClientConn, reason EndReason, cancelConnect context.CancelFunc) chan finalizeResult {
	if !s.setStatus(StatusEnding) {
		return nil
	}
	s.reason = reason
	elapsed := s.state.Elapsed(s.now())
	s.log.Info("session ending",
		"reason", string(reason),
		"duration_s", elapsed,
		"entries", len(s.state.Transcript),
	)

	s.forceFlush(ctx, client, transcript.RoleUser)
	s.forceFlush(ctx, client, transcript.RoleAssistant)

	cancelConnect()
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.log.Warn("closing upstream", "err", err)
		}
	}

	if !s.becameReady {
		s.close(ctx)
		return nil
	}

	ch := make(chan finalizeResult, 1)
	rec := s.state.Record(nil)
	in := insight.ReportInput{
		SessionID:       s.state.ID,
		Mode:            s.cfg.Mode,
		Transcript:      rec.Transcript,
		Metrics:         rec.Metrics,
		DurationSeconds: elapsed,
		VoiceName:       s.state.VoiceName,
	}
	go func() {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FinalizeTimeout)
		defer cancel()
		ch <- s.finalize(fctx, rec, in)
	}()
	return ch
}

// finalize generates the report, when the mode has one, and persists the
// record. It runs outside the event loop.
func (s *Session) finalize(ctx context.Context, rec store.Record, in insight.ReportInput) finalizeResult {
	var res finalizeResult
	if s.cfg.Mode.ProducesReport {
		if s.cfg.Reporter == nil {
			rep := insight.FallbackReport(in)
			res.report, res.reportErr = &rep, errors.New("session: no reporter configured")
		} else {
			rep, err := s.cfg.Reporter.Generate(ctx, in)
			res.report, res.reportErr = &rep, err
		}
		rec.Report = res.report
	}
	if err := s.cfg.Store.Save(ctx, rec); err != nil {
		res.saveErr = fmt.Errorf("session: save %s: %w", rec.ID, err)
	}
	return res
}

// onFinalized delivers the report and closes the session.
func (s *Session) onFinalized(ctx context.Context, client ClientConn, res finalizeResult) {
	if res.report != nil {
		s.send(ctx, client, protocol.NewReport(res.report))
	}
	if res.reportErr != nil {
		s.log.Warn("report fell back", "err", res.reportErr)
		s.send(ctx, client, protocol.Error(MsgReportFailed))
	}
	if res.saveErr != nil {
		s.log.Error("saving session failed", "err", res.saveErr)
		s.send(ctx, client, protocol.Error(MsgSaveFailed))
	} else {
		s.log.Info("session saved", "report", res.report != nil)
	}
	s.close(ctx)

	if s.cfg.Mode.ProducesReport && s.cfg.Profiler != nil {
		s.updateProfile(ctx)
	}
}

func (s *Session) close(ctx context.Context) {
	if !s.setStatus(StatusClosed) {
		return
	}
	elapsed := s.now().Sub(s.state.StartedAt).Seconds()
	s.metrics.RecordSessionEnd(ctx, s.cfg.Mode.Name, string(s.reason), elapsed)
	s.log.Info("session closed", "reason", string(s.reason))
}

// updateProfile runs the profiler detached from the session.
func (s *Session) updateProfile(ctx context.Context) {
	in := insight.ProfileInput{
		UserID:     s.state.UserID,
		Mode:       s.cfg.Mode,
		Transcript: s.state.Record(nil).Transcript,
	}
	log := s.log
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultProfileTimeout)
		defer cancel()
		if _, err := s.cfg.Profiler.Update(pctx, in); err != nil {
			log.Warn("profile update failed, keeping previous profile", "err", err)
		}
	}()
}

// onUpstreamEvent applies one event of the upstream stream.
func (s *Session) onUpstreamEvent(ctx context.Context, client ClientConn, ev s2s.Event) {
	s.metrics.RecordUpstreamEvent(ctx, ev.Type.String())
	status := s.state.Status()
	if status >= StatusEnding && ev.Type != s2s.EventClosed {
		return
	}

	switch ev.Type {
	case s2s.EventReady:
		if status != StatusConnecting {
			return
		}
		if err := s.handle.SendText(ctx, OpeningTurn); err != nil {
			s.log.Warn("sending opening turn", "err", err)
		}
		s.becameReady = true
		s.setStatus(StatusActive)
		s.send(ctx, client, protocol.NewSessionStarted(s.state.ID, s.cfg.Mode.Name))
		s.log.Info("session active")

	case s2s.EventTranscript:
		if ev.Role == s2s.RoleAssistant {
			s.onAssistantText(ctx, client, ev.Text)
		} else {
			s.onUserText(ctx, client, ev.Text)
		}

	case s2s.EventAudio:
		if s.clientGone {
			return
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := client.WriteAudio(wctx, ev.Audio); err != nil {
			s.log.Debug("writing audio", "err", err)
		}

	case s2s.EventTurnComplete:
		if s.state.startClock(s.now()) {
			s.log.Debug("session clock started")
		}
		s.send(ctx, client, protocol.TurnComplete())

	case s2s.EventInterrupted:
		s.send(ctx, client, protocol.Interrupted())

	case s2s.EventToolCall:
		if ev.ToolCall != nil {
			s.log.Info("ignoring tool call", "tool", ev.ToolCall.Name)
		}

	case s2s.EventError:
		s.log.Error("upstream error", "err", ev.Err)
		s.send(ctx, client, protocol.Error(MsgAISessionError))

	case s2s.EventClosed:
		s.upstreamClosed = true
		s.log.Info("upstream closed", "code", ev.Code, "reason", ev.Reason)
		if status >= StatusEnding {
			return
		}
		s.forceFlush(ctx, client, transcript.RoleAssistant)
		msg := MsgAIInterrupted
		if ev.Code == 1000 {
			msg = MsgSessionCompleted
		}
		s.send(ctx, client, protocol.AIDisconnected(msg))
	}
}

func (s *Session) onUserText(ctx context.Context, client ClientConn, text string) {
	buf := s.state.buffer(transcript.RoleUser)
	buf.Append(text)
	flushed, ok := buf.TryFlush()
	if !ok {
		return
	}
	s.metrics.RecordTranscriptFlush(ctx, string(transcript.RoleUser), false)
	elapsed := s.state.Elapsed(s.now())
	s.send(ctx, client, protocol.NewTranscriptCue(UserCuePrefix+flushed, elapsed))
	s.state.appendEntry(transcript.RoleUser, flushed, elapsed)

	userText := s.state.TextByRole(transcript.RoleUser)
	if s.tone.TryAnalyze(ctx, userText, s.toneCh) {
		s.log.Debug("tone analysis started")
	}

	snap := s.snapshot("")
	s.state.Metrics = append(s.state.Metrics, snap)
	s.send(ctx, client, protocol.NewMetrics(snap))
}

func (s *Session) onAssistantText(ctx context.Context, client ClientConn, text string) {
	buf := s.state.buffer(transcript.RoleAssistant)
	buf.Append(text)
	flushed, ok := buf.TryFlush()
	if !ok {
		return
	}
	s.metrics.RecordTranscriptFlush(ctx, string(transcript.RoleAssistant), false)
	elapsed := s.state.Elapsed(s.now())
	s.send(ctx, client, protocol.NewTranscriptCue(flushed, elapsed))
	s.state.appendEntry(transcript.RoleAssistant, flushed, elapsed)
}

// forceFlush drains the buffer of role into the log and cues it.
func (s *Session) forceFlush(ctx context.Context, client ClientConn, role transcript.Role) {
	text, ok := s.state.buffer(role).ForceFlush()
	if !ok {
		return
	}
	s.metrics.RecordTranscriptFlush(ctx, string(role), true)
	elapsed := s.state.Elapsed(s.now())
	s.state.appendEntry(role, text, elapsed)
	cue := text
	if role == transcript.RoleUser {
		cue = UserCuePrefix + text
	}
	s.send(ctx, client, protocol.NewTranscriptCue(cue, elapsed))
}

// snapshot computes live metrics over the logged transcript. A non-empty
// hint overrides the scheduler's hint.
func (s *Session) snapshot(hint string) analytics.Snapshot {
	tone, current := s.tone.Current()
	if hint == "" {
		hint = current
	}
	now := s.now()
	return analytics.Extract(analytics.Input{
		UserText:        s.state.TextByRole(transcript.RoleUser),
		CounterpartText: s.state.TextByRole(transcript.RoleAssistant),
		ElapsedSeconds:  float64(s.state.Elapsed(now)),
		Rules:           s.cfg.Mode.Hints.Rules(),
		Tone:            tone,
		Hint:            hint,
		Timestamp:       now.UnixMilli(),
	})
}

// onTone applies a background classification. Failures keep the last tone.
func (s *Session) onTone(ctx context.Context, client ClientConn, out analytics.ToneOutcome) {
	if out.Err != nil {
		s.metrics.RecordToneAnalysis(ctx, "error")
		s.log.Warn("tone analysis failed", "err", out.Err)
		return
	}
	s.metrics.RecordToneAnalysis(ctx, "ok")
	s.tone.Apply(out.Result)
	if s.state.Status() >= StatusEnding {
		return
	}
	s.send(ctx, client, protocol.NewMetrics(s.snapshot(out.Result.Hint)))
}

// onClientFrame decodes and dispatches one client frame. Malformed frames
// are counted and dropped.
func (s *Session) onClientFrame(ctx context.Context, client ClientConn, f protocol.Frame) {
	if !f.Binary {
		cmd, err := protocol.DecodeCommand(f.Data)
		if err != nil {
			s.metrics.RecordDecodeError(ctx, protocol.DecodeErrorKind(err))
			s.log.Debug("dropping client command", "err", err)
			return
		}
		s.log.Info("client command", "type", string(cmd))
		switch cmd {
		case protocol.CommandEndSession:
			s.RequestEnd(EndClient)
		case protocol.CommandPauseSession:
			s.sendUpstreamText(ctx, PauseTurn)
		case protocol.CommandResumeSession:
			s.sendUpstreamText(ctx, ResumeTurn)
		}
		return
	}

	if s.state.Status() >= StatusEnding || s.handle == nil {
		s.metrics.RecordMediaFrame(ctx, "dropped")
		return
	}
	media, err := protocol.DecodeMedia(f.Data)
	if err != nil {
		s.metrics.RecordDecodeError(ctx, protocol.DecodeErrorKind(err))
		s.log.Debug("dropping media frame", "err", err)
		return
	}
	s.state.MediaFrames++
	s.metrics.RecordMediaFrame(ctx, string(media.Kind))
	if n := s.state.MediaFrames; n <= 3 || n%100 == 0 {
		s.log.Debug("media frame", "n", n, "kind", string(media.Kind), "bytes", len(media.Payload))
	}
	if err := s.handle.SendMedia(ctx, s2s.MediaKind(media.Kind), media.Payload); err != nil {
		s.log.Warn("forwarding media", "n", s.state.MediaFrames, "err", err)
	}
}

func (s *Session) sendUpstreamText(ctx context.Context, text string) {
	if s.handle == nil || s.state.Status() != StatusActive {
		return
	}
	if err := s.handle.SendText(ctx, text); err != nil {
		s.log.Warn("sending upstream text", "err", err)
	}
}

// send writes a control message unless the client is gone. Write errors are
// logged; the reader notices a broken connection.
func (s *Session) send(ctx context.Context, client ClientConn, msg protocol.Message) {
	if s.clientGone {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := client.WriteMessage(wctx, msg); err != nil {
		s.log.Debug("writing message", "type", msg.MessageType(), "err", err)
	}
}

// timeLimitMessage is sent when a mode's hard timeout fires, for example
// "Feedback session time limit (1 min) reached.".
func timeLimitMessage(def mode.Definition) string {
	title := def.Title
	if title == "" {
		title = def.Name
	}
	d := def.HardTimeout
	span := fmt.Sprintf("%d s", int(d/time.Second))
	if d%time.Minute == 0 {
		span = fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return fmt.Sprintf("%s session time limit (%s) reached.", title, span)
}
