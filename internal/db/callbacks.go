/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/mpvremote/internal/telemetry"
)

const startTimeKey = "mpvremote:start_time"

// RegisterCallbacks records duration and failures of history operations.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op     string
		before func(name string, fn func(*gorm.DB)) error
		after  func(name string, fn func(*gorm.DB)) error
	}{
		{"create",
			func(n string, fn func(*gorm.DB)) error { return cb.Create().Before("gorm:create").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Create().After("gorm:create").Register(n, fn) }},
		{"query",
			func(n string, fn func(*gorm.DB)) error { return cb.Query().Before("gorm:query").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Query().After("gorm:query").Register(n, fn) }},
		{"delete",
			func(n string, fn func(*gorm.DB)) error { return cb.Delete().Before("gorm:delete").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Delete().After("gorm:delete").Register(n, fn) }},
	}
	for _, h := range hooks {
		if err := h.before("telemetry:before_"+h.op, markStart); err != nil {
			return err
		}
		if err := h.after("telemetry:after_"+h.op, observe(h.op)); err != nil {
			return err
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if v, ok := db.InstanceGet(startTimeKey); ok {
			if start, ok := v.(time.Time); ok {
				telemetry.HistoryQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
			}
		}
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.HistoryErrorsTotal.WithLabelValues(operation).Inc()
		}
	}
}
