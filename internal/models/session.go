/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SessionOutcome records why a playback session ended.
type SessionOutcome string

const (
	OutcomeFinished    SessionOutcome = "finished"     // engine reported end of file
	OutcomeShutdown    SessionOutcome = "shutdown"     // engine went away
	OutcomeStopped     SessionOutcome = "stopped"      // STOP command
	OutcomeReplaced    SessionOutcome = "replaced"     // OPEN handed off to a new session
	OutcomeKilled      SessionOutcome = "killed"       // KILL command
	OutcomeLoadTimeout SessionOutcome = "load_timeout" // media never loaded
	OutcomeCancelled   SessionOutcome = "cancelled"    // daemon shutting down
	OutcomeError       SessionOutcome = "error"        // engine reported a load error
)

// SessionRecord is one playback session in the history table.
type SessionRecord struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	URL          string         `gorm:"type:text" json:"url"`
	MediaType    string         `gorm:"type:varchar(16);index" json:"media_type"`
	StartPaused  bool           `json:"start_paused"`
	StartedAt    time.Time      `gorm:"index" json:"started_at"`
	LoadedAt     *time.Time     `json:"loaded_at,omitempty"`
	EndedAt      time.Time      `json:"ended_at"`
	Outcome      SessionOutcome `gorm:"type:varchar(32);index" json:"outcome"`
	ErrorCode    int            `json:"error_code,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
}

// TableName pins the table name.
func (SessionRecord) TableName() string { return "session_history" }

// Duration is the wall time the session held an engine context.
func (r SessionRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
