/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts commands taken off the channel, by kind and controller state.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpvremote_commands_total",
		Help: "Commands consumed from the command channel, by kind and state (idle/playing).",
	}, []string{"kind", "state"})

	// SessionsTotal counts finished sessions by outcome.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpvremote_sessions_total",
		Help: "Finished playback sessions, by outcome.",
	}, []string{"outcome"})

	// AdmissionFailuresTotal counts OPEN requests abandoned before playback, by step.
	AdmissionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpvremote_admission_failures_total",
		Help: "OPEN requests abandoned before playback, by failing step.",
	}, []string{"step"})

	// LoadDuration observes the time from LoadAndPlay until the engine reports the file loaded.
	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpvremote_load_duration_seconds",
		Help:    "Time until the engine reported the media loaded, by media type.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"media_type"})

	// ActiveSessions is 1 while an engine context exists.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mpvremote_active_sessions",
		Help: "Engine contexts currently alive (0 or 1).",
	})

	// StatusPushErrorsTotal counts failed status publications.
	StatusPushErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpvremote_status_push_errors_total",
		Help: "Status publications that failed to persist.",
	})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpvremote_api_requests_total",
		Help: "HTTP API requests, by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpvremote_api_request_duration_seconds",
		Help:    "HTTP API request latency, by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mpvremote_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// HistoryQueryDuration observes history database operations.
	HistoryQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpvremote_history_query_duration_seconds",
		Help:    "History database operation latency, by operation.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation"})

	// HistoryErrorsTotal counts failed history database operations.
	HistoryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpvremote_history_errors_total",
		Help: "Failed history database operations, by operation.",
	}, []string{"operation"})

	// StatusSubscribers tracks open websocket status streams.
	StatusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mpvremote_status_subscribers",
		Help: "Open websocket status streams.",
	})

	// EventsDroppedTotal counts in-process events a slow subscriber missed.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpvremote_events_dropped_total",
		Help: "In-process events dropped because a subscriber was full, by event type.",
	}, []string{"event_type"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
