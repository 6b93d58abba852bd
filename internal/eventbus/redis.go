/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/status"
)

// ErrCircuitOpen is returned while the sink is backing off after repeated failures.
var ErrCircuitOpen = errors.New("redis status channel unavailable")

// RedisSinkConfig tunes the circuit breaker.
type RedisSinkConfig struct {
	Channel       string
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisSinkConfig returns the defaults for prefix.
func DefaultRedisSinkConfig(prefix string) RedisSinkConfig {
	return RedisSinkConfig{
		Channel:       prefix + ":status:updates",
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisSink publishes each status snapshot on a pub/sub channel. After MaxFailures
// consecutive errors it stops publishing and retries once per CheckInterval.
type RedisSink struct {
	client *redis.Client
	cfg    RedisSinkConfig
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	failCount int
	open      bool
	lastCheck time.Time
}

var _ status.Sink = (*RedisSink)(nil)

// NewRedisSink creates a sink on client. The client stays owned by the caller.
func NewRedisSink(client *redis.Client, cfg RedisSinkConfig, logger zerolog.Logger) *RedisSink {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	return &RedisSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis-sink").Logger(),
		now:    time.Now,
	}
}

// Channel returns the pub/sub channel name.
func (s *RedisSink) Channel() string { return s.cfg.Channel }

// PublishStatus implements status.Sink.
func (s *RedisSink) PublishStatus(ctx context.Context, st status.Status) error {
	if !s.allow() {
		return ErrCircuitOpen
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.cfg.Channel, data).Err(); err != nil {
		s.handleFailure()
		return fmt.Errorf("publish status: %w", err)
	}

	s.mu.Lock()
	if s.open {
		s.logger.Info().Msg("redis status channel recovered")
	}
	s.failCount = 0
	s.open = false
	s.mu.Unlock()
	return nil
}

// allow reports whether a publish should be attempted.
func (s *RedisSink) allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return true
	}
	if s.now().Sub(s.lastCheck) < s.cfg.CheckInterval {
		return false
	}
	s.lastCheck = s.now()
	return true
}

func (s *RedisSink) handleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount++
	if s.failCount >= s.cfg.MaxFailures && !s.open {
		s.logger.Warn().Int("fail_count", s.failCount).Msg("redis failure threshold reached, pausing status publication")
		s.open = true
		s.lastCheck = s.now()
	}
}
