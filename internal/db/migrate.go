/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/mpvremote/internal/models"
)

// Migrate applies the history schema using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.SessionRecord{}); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}
