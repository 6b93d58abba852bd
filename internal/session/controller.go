/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session runs the playback state machine: an idle loop that waits for OPEN
// commands, and a playing loop that alternates engine events and commands until the
// media ends or is stopped, replaced or killed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/mpvremote/internal/command"
	"github.com/friendsincode/mpvremote/internal/engine"
	"github.com/friendsincode/mpvremote/internal/events"
	"github.com/friendsincode/mpvremote/internal/media"
	"github.com/friendsincode/mpvremote/internal/models"
	"github.com/friendsincode/mpvremote/internal/status"
	"github.com/friendsincode/mpvremote/internal/telemetry"
)

// Reply journal lines written by the controller.
const (
	MsgFinished    = "Finished playing the media"
	MsgNoActive    = "error: no active media"
	MsgCommandOK   = "ok"
	errorMsgPrefix = "error: "
)

// positionStep is the smallest playback position change that is published.
const positionStep = 1.0

// HistoryRecorder stores finished sessions.
type HistoryRecorder interface {
	Record(ctx context.Context, rec *models.SessionRecord) error
}

// Options configures a Controller. Zero durations take the defaults.
type Options struct {
	Presets         engine.Presets
	PollInterval    time.Duration
	IdleInterval    time.Duration
	LocalLoadLimit  time.Duration
	RemoteLoadLimit time.Duration

	Clock    clockwork.Clock
	Resolver *media.Resolver
	History  HistoryRecorder
	Bus      *events.Bus
	Logger   zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = time.Second
	}
	if o.LocalLoadLimit <= 0 {
		o.LocalLoadLimit = 5 * time.Second
	}
	if o.RemoteLoadLimit <= 0 {
		o.RemoteLoadLimit = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Resolver == nil {
		o.Resolver = media.NewResolver(nil, o.Logger)
	}
	if o.Presets.Options == nil {
		o.Presets = engine.DefaultPresets()
	}
}

// Session is the one active playback.
type Session struct {
	ID          string
	URL         string
	MediaType   status.MediaType
	StartPaused bool
	StartedAt   time.Time
	LoadedAt    *time.Time

	handle   engine.Handle
	unloaded time.Duration
	span     trace.Span
}

// Controller owns the engine context for the lifetime of each session. Run must be
// called from a single goroutine.
type Controller struct {
	engine  engine.Engine
	channel command.Channel
	pub     *status.Publisher
	opts    Options
	logger  zerolog.Logger

	mu     sync.Mutex
	active *Session

	killRequested atomic.Bool
}

// New creates a controller.
func New(eng engine.Engine, ch command.Channel, pub *status.Publisher, opts Options) *Controller {
	opts.setDefaults()
	return &Controller{
		engine:  eng,
		channel: ch,
		pub:     pub,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "session").Logger(),
	}
}

// KillRequested reports whether a KILL command ended the loop.
func (c *Controller) KillRequested() bool { return c.killRequested.Load() }

// Active returns a copy of the active session, if any.
func (c *Controller) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Session{}, false
	}
	return *c.active, true
}

// Run is the idle loop. It returns when a KILL arrives or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().Msg("controller running")
	for !c.killRequested.Load() {
		timer := c.opts.Clock.NewTimer(c.opts.IdleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.channel.Ready():
		case <-timer.Chan():
		}
		timer.Stop()

		cmd, ok := c.readCommand(ctx)
		if !ok {
			continue
		}
		c.dispatchIdle(ctx, cmd)
	}
	c.logger.Info().Msg("kill requested, leaving controller loop")
	return nil
}

func (c *Controller) readCommand(ctx context.Context) (command.Command, bool) {
	cmd, err := c.channel.ReadLatest(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read command failed")
		if errors.Is(err, command.ErrParse) {
			c.reply(ctx, errorMsgPrefix+err.Error())
		}
		return command.None, false
	}
	return cmd, !cmd.IsNone()
}

func (c *Controller) dispatchIdle(ctx context.Context, cmd command.Command) {
	telemetry.CommandsTotal.WithLabelValues(string(cmd.Kind), "idle").Inc()
	c.opts.publish(events.EventCommand, events.Payload{"kind": string(cmd.Kind), "state": "idle"})

	switch cmd.Kind {
	case command.KindOpen:
		c.openAndPlay(ctx, cmd)
	case command.KindKill:
		c.killRequested.Store(true)
	case command.KindRaw:
		c.reply(ctx, MsgNoActive)
	default:
		c.logger.Debug().Str("command", string(cmd.Kind)).Msg("ignoring command while idle")
	}
}

func (c *Controller) openAndPlay(ctx context.Context, cmd command.Command) {
	sess := c.admit(ctx, cmd)
	if sess == nil {
		return
	}
	outcome, errCode, errMsg := c.play(ctx, sess)
	c.teardown(ctx, sess, outcome, errCode, errMsg)
}

// admit expands and validates the reference and brings up an engine context. It
// returns nil when the OPEN was abandoned; the reason is already published.
func (c *Controller) admit(ctx context.Context, cmd command.Command) *Session {
	ctx, span := telemetry.StartSpan(ctx, "session.admit", attribute.String("media.ref", cmd.URL))
	defer span.End()

	ref := media.Expand(cmd.URL)
	mediaType := status.Classify(ref)
	c.pub.SetURL(ref)
	c.pub.SetMediaType(mediaType)
	c.push(ctx)

	log := c.logger.With().Str("url", ref).Str("media_type", string(mediaType)).Logger()

	if mediaType == status.MediaLocal {
		if err := media.CheckLocal(ref); err != nil {
			log.Warn().Err(err).Msg("media does not exist")
			telemetry.AdmissionFailuresTotal.WithLabelValues("missing").Inc()
			telemetry.RecordError(span, err)
			c.publishError(ctx, 1, fmt.Sprintf("Media `%s` does not exist", ref))
			return nil
		}
	}

	engineURL, err := c.opts.Resolver.Resolve(ctx, cmd.URL)
	if err != nil {
		log.Warn().Err(err).Msg("cannot resolve media")
		telemetry.AdmissionFailuresTotal.WithLabelValues("resolve").Inc()
		telemetry.RecordError(span, err)
		c.publishError(ctx, 1, fmt.Sprintf("Error loading media `%s`: %v", ref, err))
		return nil
	}

	h, err := c.engine.Create()
	if err != nil {
		log.Error().Err(err).Msg("failed creating context")
		telemetry.AdmissionFailuresTotal.WithLabelValues("create").Inc()
		telemetry.RecordError(span, err)
		c.publishError(ctx, 1, "Failed creating context")
		return nil
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"presets", func() error { return c.engine.ApplyPresets(h, c.opts.Presets) }},
		{"pause", func() error {
			if !cmd.StartPaused {
				return nil
			}
			return h.SetOption("pause", "yes")
		}},
		{"initialize", h.Initialize},
		{"load", func() error { return h.LoadAndPlay(engineURL) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			h.Terminate()
			telemetry.AdmissionFailuresTotal.WithLabelValues(step.name).Inc()
			telemetry.RecordError(span, err)
			c.engineFailure(ctx, log, step.name, err)
			return nil
		}
	}

	sess := &Session{
		ID:          uuid.NewString(),
		URL:         ref,
		MediaType:   mediaType,
		StartPaused: cmd.StartPaused,
		StartedAt:   c.opts.Clock.Now(),
		handle:      h,
	}
	_, sess.span = telemetry.StartSpan(ctx, "session.play",
		attribute.String("session.id", sess.ID),
		attribute.String("media.type", string(mediaType)),
	)
	span.SetAttributes(attribute.String("session.id", sess.ID))

	c.mu.Lock()
	c.active = sess
	c.mu.Unlock()
	telemetry.ActiveSessions.Set(1)

	c.pub.ClearError()
	c.pub.SetSessionID(sess.ID)
	c.pub.SetPaused(cmd.StartPaused)
	c.push(ctx)
	c.opts.publish(events.EventSessionStart, events.Payload{"session_id": sess.ID, "url": ref})

	log.Info().Str("session_id", sess.ID).Bool("paused", cmd.StartPaused).Msg("playing media")
	return sess
}

// play is the inner loop. It returns the outcome and, for failures, the error to record.
func (c *Controller) play(ctx context.Context, sess *Session) (models.SessionOutcome, int, string) {
	limit := c.opts.LocalLoadLimit
	if sess.MediaType == status.MediaHTTP {
		limit = c.opts.RemoteLoadLimit
	}
	last := c.opts.Clock.Now()

	for {
		ev := sess.handle.WaitEvent(ctx, c.opts.PollInterval)
		if ctx.Err() != nil {
			return models.OutcomeCancelled, 0, ""
		}
		c.processEvent(sess, ev)

		switch ev.Kind {
		case engine.EventShutdown:
			c.push(ctx)
			return models.OutcomeShutdown, 0, ""
		case engine.EventFileEnded:
			if ev.Err != nil || ev.Reason == "error" {
				msg := fmt.Sprintf("Error loading media `%s`", sess.URL)
				c.logger.Warn().Err(ev.Err).Str("url", sess.URL).Msg("engine could not play media")
				c.publishError(ctx, 1, msg)
				return models.OutcomeError, 1, msg
			}
			c.push(ctx)
			return models.OutcomeFinished, 0, ""
		}

		now := c.opts.Clock.Now()
		if sess.LoadedAt == nil {
			sess.unloaded += now.Sub(last)
			if sess.unloaded > limit {
				msg := fmt.Sprintf("Error loading media `%s`", sess.URL)
				c.logger.Warn().Str("url", sess.URL).Dur("waited", sess.unloaded).Msg("media load timed out")
				c.publishError(ctx, 1, msg)
				return models.OutcomeLoadTimeout, 1, msg
			}
		}
		last = now

		if outcome, done := c.handlePlayingCommand(ctx, sess); done {
			c.push(ctx)
			return outcome, 0, ""
		}

		if err := c.pub.PushIfDirty(ctx); err != nil {
			telemetry.StatusPushErrorsTotal.Inc()
			c.logger.Warn().Err(err).Msg("status push failed")
		}
	}
}

// processEvent folds an engine event into the published status.
func (c *Controller) processEvent(sess *Session, ev engine.Event) {
	if ev.Kind != engine.EventOther {
		return
	}
	switch ev.Sub {
	case engine.OtherFileLoaded, engine.OtherPlaybackRestart:
		c.pub.SetLoaded(true)
		if sess.LoadedAt == nil {
			now := c.opts.Clock.Now()
			sess.LoadedAt = &now
			telemetry.LoadDuration.WithLabelValues(string(sess.MediaType)).Observe(now.Sub(sess.StartedAt).Seconds())
		}
	case engine.OtherPropertyChange:
		switch ev.Name {
		case "pause":
			if v, ok := ev.Value.(bool); ok {
				c.pub.SetPaused(v)
			}
		case "time-pos":
			if v, ok := ev.Value.(float64); ok {
				cur := c.pub.Snapshot().Position
				if v < cur || v-cur >= positionStep {
					c.pub.SetPosition(v, 0)
				}
			}
		case "duration":
			if v, ok := ev.Value.(float64); ok {
				c.pub.SetDuration(v)
			}
		}
	}
}

// handlePlayingCommand applies at most one pending command. done reports that the
// session must end.
func (c *Controller) handlePlayingCommand(ctx context.Context, sess *Session) (models.SessionOutcome, bool) {
	cmd, ok := c.readCommand(ctx)
	if !ok {
		return "", false
	}
	telemetry.CommandsTotal.WithLabelValues(string(cmd.Kind), "playing").Inc()
	c.opts.publish(events.EventCommand, events.Payload{"kind": string(cmd.Kind), "state": "playing", "session_id": sess.ID})

	switch cmd.Kind {
	case command.KindStop:
		return models.OutcomeStopped, true
	case command.KindOpen:
		// Hand the OPEN back to the idle loop so it is admitted after this session is
		// torn down.
		if err := c.channel.Write(ctx, cmd); err != nil {
			c.logger.Error().Err(err).Str("url", cmd.URL).Msg("failed to requeue open command")
		}
		return models.OutcomeReplaced, true
	case command.KindKill:
		c.killRequested.Store(true)
		return models.OutcomeKilled, true
	case command.KindPause, command.KindResume:
		value := "yes"
		if cmd.Kind == command.KindResume {
			value = "no"
		}
		if err := sess.handle.Command("set", "pause", value); err != nil {
			c.logger.Warn().Err(err).Str("command", string(cmd.Kind)).Msg("pause toggle failed")
		}
	case command.KindRaw:
		if err := sess.handle.Command(cmd.Args...); err != nil {
			c.logger.Warn().Err(err).Strs("args", cmd.Args).Msg("engine command failed")
			c.reply(ctx, errorMsgPrefix+err.Error())
		} else {
			c.reply(ctx, MsgCommandOK)
		}
	}
	return "", false
}

// teardown always runs after an admitted session, whatever ended it.
func (c *Controller) teardown(ctx context.Context, sess *Session, outcome models.SessionOutcome, errCode int, errMsg string) {
	sess.handle.Terminate()

	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
	telemetry.ActiveSessions.Set(0)

	// Teardown also runs while the daemon is shutting down.
	ctx = context.WithoutCancel(ctx)

	c.pub.ResetPlayback()
	c.push(ctx)
	c.reply(ctx, MsgFinished)

	ended := c.opts.Clock.Now()
	c.logger.Info().
		Str("session_id", sess.ID).
		Str("outcome", string(outcome)).
		Dur("duration", ended.Sub(sess.StartedAt)).
		Msg("finished playing the media")
	telemetry.SessionsTotal.WithLabelValues(string(outcome)).Inc()

	if sess.span != nil {
		sess.span.SetAttributes(attribute.String("session.outcome", string(outcome)))
		sess.span.End()
	}
	c.opts.publish(events.EventSessionEnd, events.Payload{"session_id": sess.ID, "outcome": string(outcome)})

	if c.opts.History == nil {
		return
	}
	rec := &models.SessionRecord{
		ID:           sess.ID,
		URL:          sess.URL,
		MediaType:    string(sess.MediaType),
		StartPaused:  sess.StartPaused,
		StartedAt:    sess.StartedAt.UTC(),
		EndedAt:      ended.UTC(),
		Outcome:      outcome,
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
	}
	if sess.LoadedAt != nil {
		loaded := sess.LoadedAt.UTC()
		rec.LoadedAt = &loaded
	}
	if err := c.opts.History.Record(ctx, rec); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to record session history")
	}
}

// Close terminates the active engine context, if any. It is safe to call at any time
// and more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess != nil {
		sess.handle.Terminate()
	}
}

func (c *Controller) engineFailure(ctx context.Context, log zerolog.Logger, step string, err error) {
	code := engine.CodeGeneric
	msg := err.Error()
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		code = engErr.Code
		msg = engErr.Msg
	}
	log.Error().Err(err).Int("code", code).Str("step", step).Msg("engine error")
	c.publishError(ctx, code, "MPV API error: "+msg)
}

// publishError sets, pushes and journals an error.
func (c *Controller) publishError(ctx context.Context, code int, msg string) {
	c.pub.SetError(code, msg)
	c.push(ctx)
	c.reply(ctx, msg)
}

func (c *Controller) push(ctx context.Context) {
	if err := c.pub.Push(ctx); err != nil {
		telemetry.StatusPushErrorsTotal.Inc()
		c.logger.Warn().Err(err).Msg("status push failed")
	}
}

func (c *Controller) reply(ctx context.Context, line string) {
	if err := c.channel.Reply(ctx, line); err != nil {
		c.logger.Warn().Err(err).Msg("reply journal write failed")
	}
}

func (o *Options) publish(t events.EventType, p events.Payload) {
	if o.Bus != nil {
		o.Bus.Publish(t, p)
	}
}
