/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the player over HTTP: status, control, history, logs and a
// websocket status stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mpvremote/internal/auth"
	"github.com/friendsincode/mpvremote/internal/command"
	"github.com/friendsincode/mpvremote/internal/logbuffer"
	"github.com/friendsincode/mpvremote/internal/models"
	"github.com/friendsincode/mpvremote/internal/status"
	"github.com/friendsincode/mpvremote/internal/telemetry"
)

const maxBodyBytes = 64 << 10

// HistoryReader lists finished sessions.
type HistoryReader interface {
	Recent(ctx context.Context, limit int, outcome models.SessionOutcome) ([]models.SessionRecord, error)
	Get(ctx context.Context, id string) (*models.SessionRecord, error)
}

// Options configures the API.
type Options struct {
	Channel   command.Channel
	Publisher *status.Publisher
	History   HistoryReader     // nil disables /history
	LogBuffer *logbuffer.Buffer // nil disables /logs

	JWTSecret          []byte // empty disables auth
	RateLimitPerMinute int
	CommandWait        time.Duration

	Logger zerolog.Logger
}

// API exposes HTTP handlers.
type API struct {
	ch        command.Channel
	pub       *status.Publisher
	history   HistoryReader
	logBuffer *logbuffer.Buffer
	opts      Options
	logger    zerolog.Logger

	// serializes raw commands so each caller reads its own reply
	rawMu sync.Mutex
}

// New creates the API.
func New(opts Options) *API {
	if opts.CommandWait <= 0 {
		opts.CommandWait = time.Second
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 120
	}
	return &API{
		ch:        opts.Channel,
		pub:       opts.Publisher,
		history:   opts.History,
		logBuffer: opts.LogBuffer,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(telemetry.TracingMiddleware("mpvremote-api"))
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/status", a.handleStatus)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(a.opts.JWTSecret, ""))
		pr.Get("/history", a.handleHistoryList)
		pr.Get("/history/{id}", a.handleHistoryGet)
		pr.Get("/logs", a.handleLogs)
		pr.Get(auth.StatusStreamPath, a.handleStatusStream)
	})

	r.Group(func(cr chi.Router) {
		cr.Use(auth.Middleware(a.opts.JWTSecret, auth.ScopeControl))
		cr.Use(rateLimit(a.opts.RateLimitPerMinute, time.Minute))
		cr.Post("/open", a.handleOpen)
		cr.Post("/stop", a.handleSimple(command.Stop()))
		cr.Post("/pause", a.handleSimple(command.Pause()))
		cr.Post("/resume", a.handleSimple(command.Resume()))
		cr.Post("/command", a.handleCommand)
		cr.Delete("/logs", a.handleLogsClear)
	})

	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		}),
	)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.pub.Snapshot())
}

func (a *API) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Paused bool   `json:"paused"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}
	a.enqueue(w, r, command.Open(req.URL, req.Paused))
}

func (a *API) handleSimple(cmd command.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.enqueue(w, r, cmd)
	}
}

// handleCommand accepts a command line in the body. Raw engine commands wait for the
// player's reply; everything else is queued.
func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	cmd, err := command.Parse(string(body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_command", "detail": err.Error()})
		return
	}
	if cmd.IsNone() {
		writeError(w, http.StatusBadRequest, "empty_command")
		return
	}
	if cmd.Kind != command.KindRaw {
		a.enqueue(w, r, cmd)
		return
	}

	reply, err := a.sendRaw(r.Context(), cmd)
	switch {
	case errors.Is(err, command.ErrReplyTimeout):
		writeError(w, http.StatusGatewayTimeout, "no_reply")
	case err != nil:
		a.logger.Error().Err(err).Msg("raw command failed")
		writeError(w, http.StatusInternalServerError, "channel_error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	}
}

func (a *API) sendRaw(ctx context.Context, cmd command.Command) (string, error) {
	a.rawMu.Lock()
	defer a.rawMu.Unlock()
	if err := a.ch.SeekToEnd(ctx); err != nil {
		return "", err
	}
	if err := a.ch.Write(ctx, cmd); err != nil {
		return "", err
	}
	return a.ch.WaitForReplyWithin(ctx, a.opts.CommandWait)
}

func (a *API) enqueue(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	if err := a.ch.Write(r.Context(), cmd); err != nil {
		a.logger.Error().Err(err).Str("command", string(cmd.Kind)).Msg("queue command failed")
		writeError(w, http.StatusInternalServerError, "channel_error")
		return
	}
	a.logger.Debug().
		Str("command", cmd.String()).
		Str("operator", auth.Operator(r.Context())).
		Msg("command queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": string(cmd.Kind)})
}

func (a *API) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	outcome := models.SessionOutcome(r.URL.Query().Get("outcome"))

	recs, err := a.history.Recent(r.Context(), limit, outcome)
	if err != nil {
		a.logger.Error().Err(err).Msg("list history failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs, "count": len(recs)})
}

func (a *API) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_disabled")
		return
	}
	rec, err := a.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error().Err(err).Msg("get history failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		MinLevel:   q.Get("level"),
		Component:  q.Get("component"),
		SessionID:  q.Get("session_id"),
		Search:     q.Get("search"),
		Descending: q.Get("order") != "asc",
		Limit:      500,
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (a *API) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_disabled")
		return
	}
	n := a.logBuffer.Len()
	a.logBuffer.Clear()
	a.logger.Info().Int("entries", n).Str("operator", auth.Operator(r.Context())).Msg("log buffer cleared")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
