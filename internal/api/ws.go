/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/mpvremote/internal/status"
	"github.com/friendsincode/mpvremote/internal/telemetry"
)

const (
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// statusMessage is one frame on the status stream.
type statusMessage struct {
	Type   string         `json:"type"`
	Status *status.Status `json:"status,omitempty"`
}

// handleStatusStream sends the current snapshot, then every published one.
func (a *API) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.StatusSubscribers.Inc()
	defer telemetry.StatusSubscribers.Dec()

	updates, cancel := a.pub.Subscribe()
	defer cancel()

	// The stream is write-only; CloseRead handles control frames and cancels ctx when
	// the peer goes away.
	ctx := conn.CloseRead(r.Context())

	current := a.pub.Snapshot()
	if err := a.writeFrame(ctx, conn, statusMessage{Type: "status", Status: &current}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := a.writeFrame(ctx, conn, statusMessage{Type: "ping"}); err != nil {
				return
			}
		case st, ok := <-updates:
			if !ok {
				conn.Close(ws.StatusGoingAway, "status stream closed")
				return
			}
			if err := a.writeFrame(ctx, conn, statusMessage{Type: "status", Status: &st}); err != nil {
				return
			}
		}
	}
}

func (a *API) writeFrame(ctx context.Context, conn *ws.Conn, msg statusMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		a.logger.Debug().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}
