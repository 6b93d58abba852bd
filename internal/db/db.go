/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package db stores session history through gorm.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/mpvremote/internal/config"
)

// Connect establishes a gorm DB connection for the configured history backend.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.HistoryBackend {
	case config.HistoryPostgres:
		dialector = postgres.Open(cfg.HistoryDSN)
	case config.HistoryMySQL:
		dialector = mysql.Open(cfg.HistoryDSN)
	case config.HistorySQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryDSN), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		dialector = sqlite.Open(cfg.HistoryDSN)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.HistoryBackend)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.HistoryBackend == config.HistorySQLite {
		// One writer; the daemon is the only client.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(4)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
