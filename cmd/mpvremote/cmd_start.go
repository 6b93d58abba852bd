/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mpvremote/internal/api"
	"github.com/friendsincode/mpvremote/internal/config"
	"github.com/friendsincode/mpvremote/internal/daemon"
	"github.com/friendsincode/mpvremote/internal/db"
	"github.com/friendsincode/mpvremote/internal/engine"
	"github.com/friendsincode/mpvremote/internal/engine/mpv"
	"github.com/friendsincode/mpvremote/internal/eventbus"
	"github.com/friendsincode/mpvremote/internal/events"
	"github.com/friendsincode/mpvremote/internal/media"
	"github.com/friendsincode/mpvremote/internal/session"
	"github.com/friendsincode/mpvremote/internal/telemetry"
	"github.com/friendsincode/mpvremote/internal/version"
)

var startForce bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the player",
	Long: `Start the long-lived player and serve commands until killed.

Only one player may run at a time. With --force a running player is asked to
exit first.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&startForce, "force", "f", false, "Kill a running player before starting")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "mpvremote",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		_ = tracerProvider.Shutdown(context.Background())
		return err
	}

	bus := events.NewBus()
	pub := be.publisher(bus, logger)

	var hooks []startHook
	addHook := func(name string, fn daemon.ShutdownHook) {
		hooks = append(hooks, startHook{name, fn})
	}
	addHook("tracer", tracerProvider.Shutdown)
	addHook("backend", func(context.Context) error { return be.Close() })
	addHook("events", func(context.Context) error { bus.Close(); return nil })

	if be.redis != nil {
		pub.AddSink(eventbus.NewRedisSink(be.redis, eventbus.DefaultRedisSinkConfig(cfg.RedisPrefix), logger))
	}

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Subject = cfg.NATSSubject
		sink, err := eventbus.NewNATSSink(natsCfg, logger)
		if err != nil {
			// The mirror is optional; the player runs without it.
			logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats status mirror disabled")
		} else {
			pub.AddSink(sink)
			sink.Forward(bus, events.EventSessionStart, events.EventSessionEnd)
			addHook("nats", func(context.Context) error { return sink.Close() })
		}
	}

	var history *db.HistoryStore
	if cfg.HistoryBackend != config.HistoryNone {
		database, err := db.Connect(cfg)
		if err != nil {
			return abortStart(hooks, err)
		}
		addHook("history", func(context.Context) error { return db.Close(database) })
		if err := db.RegisterCallbacks(database); err != nil {
			return abortStart(hooks, fmt.Errorf("register db callbacks: %w", err))
		}
		if err := db.Migrate(database); err != nil {
			return abortStart(hooks, err)
		}
		history = db.NewHistoryStore(database)
		if cfg.HistoryRetention > 0 {
			if n, err := history.Prune(ctx, time.Now().Add(-cfg.HistoryRetention)); err != nil {
				logger.Warn().Err(err).Msg("history prune failed")
			} else if n > 0 {
				logger.Info().Int64("sessions", n).Dur("retention", cfg.HistoryRetention).Msg("pruned session history")
			}
		}
	}

	var presigner media.Presigner
	if cfg.S3Endpoint != "" || cfg.S3AccessKeyID != "" {
		p, err := media.NewS3Presigner(ctx, media.S3Config{
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKeyID:  cfg.S3AccessKeyID,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			TTL:          cfg.S3PresignTTL,
		})
		if err != nil {
			return abortStart(hooks, err)
		}
		presigner = p
	}

	presets := engine.DefaultPresets()
	if cfg.PresetsFile != "" {
		if presets, err = engine.LoadPresets(cfg.PresetsFile); err != nil {
			return abortStart(hooks, err)
		}
	}

	sessionOpts := session.Options{
		Presets:         presets,
		PollInterval:    cfg.PollInterval,
		IdleInterval:    cfg.IdleInterval,
		LocalLoadLimit:  cfg.LocalLoadLimit,
		RemoteLoadLimit: cfg.RemoteLoadLimit,
		Resolver:        media.NewResolver(presigner, logger),
		Bus:             bus,
		Logger:          logger,
	}
	if history != nil {
		sessionOpts.History = history
	}
	controller := session.New(mpv.New(cfg.MPVBin, logger), be.channel, pub, sessionOpts)

	var transport daemon.Transport
	if cfg.HTTPEnabled {
		apiOpts := api.Options{
			Channel:            be.channel,
			Publisher:          pub,
			LogBuffer:          logBuffer,
			JWTSecret:          []byte(cfg.JWTSigningKey),
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			CommandWait:        cfg.CommandWait,
			Logger:             logger,
		}
		if history != nil {
			apiOpts.History = history
		}
		transport = api.NewServer(cfg.HTTPAddr(), api.New(apiOpts).Router(), logger)
	}

	d := daemon.New(daemon.Options{
		Channel:    be.channel,
		Publisher:  pub,
		Controller: controller,
		Transport:  transport,
		KillWait:   cfg.KillWait,
		Signals:    daemon.DefaultSignals,
		Logger:     logger,
	})
	for _, h := range hooks {
		d.RegisterShutdownHook(h.name, h.fn)
	}

	if err := d.Start(ctx, startForce); err != nil {
		// The status belongs to whichever player is running; only release local resources.
		return abortStart(hooks, err)
	}
	logger.Info().
		Str("version", version.Version).
		Str("channel", string(cfg.ChannelBackend)).
		Str("history", string(cfg.HistoryBackend)).
		Bool("http", cfg.HTTPEnabled).
		Msg(daemon.MsgRunning)

	return d.Run(ctx)
}

type startHook struct {
	name string
	fn   daemon.ShutdownHook
}

// abortStart releases what was opened so far, newest first.
func abortStart(hooks []startHook, err error) error {
	for i := len(hooks) - 1; i >= 0; i-- {
		if hookErr := hooks[i].fn(context.Background()); hookErr != nil {
			logger.Warn().Err(hookErr).Str("hook", hooks[i].name).Msg("cleanup failed")
		}
	}
	return err
}
