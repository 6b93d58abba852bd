/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/command"
	"github.com/friendsincode/mpvremote/internal/command/filechan"
	"github.com/friendsincode/mpvremote/internal/command/redischan"
	"github.com/friendsincode/mpvremote/internal/config"
	"github.com/friendsincode/mpvremote/internal/events"
	"github.com/friendsincode/mpvremote/internal/status"
)

// backend bundles the command channel and status store shared by the player and its
// clients.
type backend struct {
	channel command.Channel
	store   status.Store
	redis   *redis.Client // nil for the file backend
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.ChannelBackend {
	case config.ChannelRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return &backend{
			channel: redischan.New(client, cfg.RedisPrefix, logger),
			store:   status.NewRedisStore(client, cfg.RedisPrefix),
			redis:   client,
		}, nil
	default:
		ch, err := filechan.New(cfg.StateDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open command channel: %w", err)
		}
		store, err := status.NewFileStore(cfg.StateDir)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("open status store: %w", err)
		}
		return &backend{channel: ch, store: store}, nil
	}
}

func (b *backend) publisher(bus *events.Bus, logger zerolog.Logger) *status.Publisher {
	return status.NewPublisher(b.store, bus, logger, nil)
}

func (b *backend) Close() error {
	var errs []error
	if err := b.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
