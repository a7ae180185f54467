package models

import "time"

// AttemptRecord is one row of the attempt log: either a failed attempt or a
// block event. Rows are inserted and deleted, never updated.
type AttemptRecord struct {
	ID           string    `json:"id" db:"id"`
	Identifier   string    `json:"identifier" db:"identifier"` // {type}_{caller identifier}
	LimitType    string    `json:"limit_type" db:"limit_type"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	AttemptCount int       `json:"attempt_count" db:"attempt_count"`
	Blocked      bool      `json:"blocked" db:"blocked"`
}
