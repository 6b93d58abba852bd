/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors status snapshots and session events to external brokers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/events"
	"github.com/friendsincode/mpvremote/internal/status"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL     string
	Subject string // status goes to Subject, bus events to Subject.<event type>

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "mpvremote.status",
		MaxReconnects: -1, // unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSSink publishes status snapshots and bus events as JSON messages.
type NATSSink struct {
	conn    publisher
	subject string
	nodeID  string
	logger  zerolog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

var _ status.Sink = (*NATSSink)(nil)

// NewNATSSink connects to NATS. The connection reconnects in the background.
func NewNATSSink(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	logger = logger.With().Str("component", "nats").Logger()
	conn, err := nats.Connect(cfg.URL,
		nats.Name("mpvremote"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("nats status mirror connected")
	return newNATSSink(conn, cfg.Subject, logger), nil
}

func newNATSSink(conn publisher, subject string, logger zerolog.Logger) *NATSSink {
	return &NATSSink{
		conn:    conn,
		subject: subject,
		nodeID:  generateNodeID(),
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// PublishStatus implements status.Sink.
func (s *NATSSink) PublishStatus(_ context.Context, st status.Status) error {
	data, err := marshalNATSMessage(events.EventStatus, events.Payload{"status": st}, s.nodeID)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish status to %s: %w", s.subject, err)
	}
	return nil
}

// Forward relays the given bus event types to Subject.<type> until Close.
func (s *NATSSink) Forward(bus *events.Bus, types ...events.EventType) {
	for _, t := range types {
		sub := bus.Subscribe(t)
		s.wg.Add(1)
		go func(t events.EventType, sub events.Subscriber) {
			defer s.wg.Done()
			defer bus.Unsubscribe(t, sub)
			subject := s.subject + "." + string(t)
			for {
				select {
				case <-s.stop:
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					data, err := marshalNATSMessage(t, payload, s.nodeID)
					if err != nil {
						s.logger.Error().Err(err).Str("event_type", string(t)).Msg("failed to marshal nats message")
						continue
					}
					if err := s.conn.Publish(subject, data); err != nil {
						s.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish to nats")
					}
				}
			}
		}(t, sub)
	}
}

// Close stops forwarding and drains the connection.
func (s *NATSSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.conn.Drain()
	})
	return err
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // for deduplication
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal nats message: %w", err)
	}
	return data, nil
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mpvremote"
	}
	return host + "-" + uuid.NewString()[:8]
}
