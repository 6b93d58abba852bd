/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/mpvremote/internal/models"
)

// HistoryStore persists finished sessions.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore wraps an open, migrated database.
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record inserts one finished session.
func (s *HistoryStore) Record(ctx context.Context, rec *models.SessionRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first. outcome filters when non-empty.
func (s *HistoryStore) Recent(ctx context.Context, limit int, outcome models.SessionOutcome) ([]models.SessionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	var out []models.SessionRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Get returns one session by id. A missing id yields gorm.ErrRecordNotFound.
func (s *HistoryStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Prune deletes sessions that ended before cutoff and returns how many were removed.
func (s *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("ended_at < ?", cutoff).Delete(&models.SessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
