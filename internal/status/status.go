/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package status holds the daemon's externally visible snapshot and publishes it to the
// configured store and sinks.
package status

import (
	"context"
	"strings"
	"time"
)

// MediaType selects timeout policy and local existence checks.
type MediaType string

const (
	MediaLocal MediaType = "local"
	MediaHTTP  MediaType = "http"
)

var remoteSchemes = []string{"http", "https", "rtmp", "rtmps", "rtsp", "ftp", "hls", "mms", "s3", "ytdl"}

// Classify derives the media type from the URL form: a known network scheme means
// MediaHTTP, everything else (plain paths, file://) is MediaLocal.
func Classify(url string) MediaType {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return MediaLocal
	}
	scheme = strings.ToLower(scheme)
	for _, s := range remoteSchemes {
		if scheme == s {
			return MediaHTTP
		}
	}
	return MediaLocal
}

// Error is the last error published by the daemon. Code 0 means none.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Status is the daemon's observable snapshot.
type Status struct {
	Running   bool      `json:"running"`
	Loaded    bool      `json:"loaded"`
	Paused    bool      `json:"paused"`
	URL       string    `json:"url"`
	MediaType MediaType `json:"media_type"`
	Error     Error     `json:"error"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	SessionID string    `json:"session_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Default returns the terminated/idle snapshot.
func Default() Status {
	return Status{MediaType: MediaLocal}
}

// Store persists snapshots so that separate client processes can read them.
type Store interface {
	Load(ctx context.Context) (Status, error)
	Save(ctx context.Context, st Status) error
}

// Sink receives every pushed snapshot (websocket fan-out, NATS mirror).
type Sink interface {
	PublishStatus(ctx context.Context, st Status) error
}
