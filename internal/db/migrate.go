/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/guildplay/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.PlayRecord{},
	); err != nil {
		return err
	}

	if err := closeDanglingPlays(database); err != nil {
		return err
	}

	return nil
}

// closeDanglingPlays marks plays left open by a crash as ended when they
// started. A record with no end would otherwise look like it is still playing.
func closeDanglingPlays(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE play_records SET ended_at = started_at, error_message = ? WHERE ended_at IS NULL",
		"interrupted",
	).Error; err != nil {
		return fmt.Errorf("close dangling plays: %w", err)
	}
	return nil
}
