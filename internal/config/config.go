/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ChannelBackend selects where commands, replies and status live.
type ChannelBackend string

const (
	ChannelFile  ChannelBackend = "file"
	ChannelRedis ChannelBackend = "redis"
)

// HistoryBackend selects the session history database.
type HistoryBackend string

const (
	HistoryNone     HistoryBackend = "none"
	HistorySQLite   HistoryBackend = "sqlite"
	HistoryPostgres HistoryBackend = "postgres"
	HistoryMySQL    HistoryBackend = "mysql"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment    string
	StateDir       string // command file, reply journal and status.json live here
	ChannelBackend ChannelBackend

	// HTTP transport
	HTTPEnabled        bool
	HTTPBind           string
	HTTPPort           int
	JWTSigningKey      string // empty disables auth on mutating routes
	RateLimitPerMinute int

	// Media engine
	MPVBin      string
	PresetsFile string

	// Controller timing
	PollInterval    time.Duration
	IdleInterval    time.Duration
	KillWait        time.Duration
	CommandWait     time.Duration
	LocalLoadLimit  time.Duration
	RemoteLoadLimit time.Duration

	// Redis backend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// NATS status mirror (optional)
	NATSURL     string
	NATSSubject string

	// Session history
	HistoryBackend HistoryBackend
	HistoryDSN     string
	// HistoryRetention prunes older sessions at startup; zero keeps everything.
	HistoryRetention time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// S3 media resolution (optional)
	S3Region       string
	S3Endpoint     string
	S3AccessKeyID  string
	S3SecretKey    string
	S3UsePathStyle bool
	S3PresignTTL   time.Duration

	LogLevel      string
	LogJSON       bool
	LogBufferSize int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnvAny([]string{"MPVREMOTE_ENV"}, "production"),
		StateDir:       getEnvAny([]string{"MPVREMOTE_STATE_DIR"}, defaultStateDir()),
		ChannelBackend: ChannelBackend(getEnvAny([]string{"MPVREMOTE_CHANNEL_BACKEND"}, string(ChannelFile))),

		HTTPEnabled:        getEnvBoolAny([]string{"MPVREMOTE_HTTP_ENABLED"}, true),
		HTTPBind:           getEnvAny([]string{"MPVREMOTE_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort:           getEnvIntAny([]string{"MPVREMOTE_HTTP_PORT"}, 8765),
		JWTSigningKey:      getEnvAny([]string{"MPVREMOTE_JWT_SIGNING_KEY"}, ""),
		RateLimitPerMinute: getEnvIntAny([]string{"MPVREMOTE_RATE_LIMIT_PER_MINUTE"}, 120),

		MPVBin:      getEnvAny([]string{"MPVREMOTE_MPV_BIN", "MPV_BIN"}, "mpv"),
		PresetsFile: getEnvAny([]string{"MPVREMOTE_PRESETS_FILE"}, ""),

		PollInterval:    getEnvDurationAny([]string{"MPVREMOTE_POLL_INTERVAL"}, 100*time.Millisecond),
		IdleInterval:    getEnvDurationAny([]string{"MPVREMOTE_IDLE_INTERVAL"}, time.Second),
		KillWait:        getEnvDurationAny([]string{"MPVREMOTE_KILL_WAIT"}, 1500*time.Millisecond),
		CommandWait:     getEnvDurationAny([]string{"MPVREMOTE_COMMAND_WAIT"}, time.Second),
		LocalLoadLimit:  getEnvDurationAny([]string{"MPVREMOTE_LOCAL_LOAD_TIMEOUT"}, 5*time.Second),
		RemoteLoadLimit: getEnvDurationAny([]string{"MPVREMOTE_REMOTE_LOAD_TIMEOUT"}, 30*time.Second),

		RedisAddr:     getEnvAny([]string{"MPVREMOTE_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"MPVREMOTE_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"MPVREMOTE_REDIS_DB"}, 0),
		RedisPrefix:   getEnvAny([]string{"MPVREMOTE_REDIS_PREFIX"}, "mpvremote"),

		NATSURL:     getEnvAny([]string{"MPVREMOTE_NATS_URL", "NATS_URL"}, ""),
		NATSSubject: getEnvAny([]string{"MPVREMOTE_NATS_SUBJECT"}, "mpvremote.status"),

		HistoryBackend: HistoryBackend(getEnvAny([]string{"MPVREMOTE_HISTORY_BACKEND"}, string(HistorySQLite))),
		HistoryDSN:     getEnvAny([]string{"MPVREMOTE_HISTORY_DSN"}, ""),
		HistoryRetention: getEnvDurationAny([]string{"MPVREMOTE_HISTORY_RETENTION"}, 90*24*time.Hour),

		TracingEnabled:    getEnvBoolAny([]string{"MPVREMOTE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"MPVREMOTE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"MPVREMOTE_TRACING_SAMPLE_RATE"}, 1.0),

		S3Region:       getEnvAny([]string{"MPVREMOTE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:     getEnvAny([]string{"MPVREMOTE_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3AccessKeyID:  getEnvAny([]string{"MPVREMOTE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretKey:    getEnvAny([]string{"MPVREMOTE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3UsePathStyle: getEnvBoolAny([]string{"MPVREMOTE_S3_USE_PATH_STYLE"}, false),
		S3PresignTTL:   getEnvDurationAny([]string{"MPVREMOTE_S3_PRESIGN_TTL"}, 6*time.Hour),

		LogLevel:      getEnvAny([]string{"MPVREMOTE_LOG_LEVEL", "LOG_LEVEL"}, ""),
		LogJSON:       getEnvBoolAny([]string{"MPVREMOTE_LOG_JSON"}, false),
		LogBufferSize: getEnvIntAny([]string{"MPVREMOTE_LOG_BUFFER_SIZE"}, 2000),
	}

	if cfg.ChannelBackend != ChannelFile && cfg.ChannelBackend != ChannelRedis {
		return nil, fmt.Errorf("unsupported channel backend %q", cfg.ChannelBackend)
	}

	switch cfg.HistoryBackend {
	case HistoryNone:
	case HistorySQLite:
		if cfg.HistoryDSN == "" {
			cfg.HistoryDSN = filepath.Join(cfg.StateDir, "history.db")
		}
	case HistoryPostgres, HistoryMySQL:
		if cfg.HistoryDSN == "" {
			return nil, fmt.Errorf("MPVREMOTE_HISTORY_DSN must be provided for history backend %q", cfg.HistoryBackend)
		}
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.HistoryBackend)
	}

	if cfg.PollInterval <= 0 || cfg.IdleInterval <= 0 {
		return nil, fmt.Errorf("poll and idle intervals must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.HTTPEnabled && cfg.JWTSigningKey == "" && !isLoopback(cfg.HTTPBind) {
		return nil, fmt.Errorf("MPVREMOTE_JWT_SIGNING_KEY must be set when the HTTP transport binds to %s in production", cfg.HTTPBind)
	}

	return cfg, nil
}

// HTTPAddr returns the listen address of the HTTP transport.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mpvremote")
	}
	return filepath.Join(os.TempDir(), "mpvremote")
}

func isLoopback(bind string) bool {
	return bind == "127.0.0.1" || bind == "localhost" || bind == "::1"
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("250ms") or plain seconds ("1.5").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
