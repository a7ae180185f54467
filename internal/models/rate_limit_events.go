package models

import "time"

type RateLimitEventKind string

const (
	EventBlocked  RateLimitEventKind = "blocked"   // failure ceiling crossed, block record written
	EventDenied   RateLimitEventKind = "denied"    // attempt rejected by an active block
	EventFailOpen RateLimitEventKind = "fail_open" // store error, attempt allowed anyway
)

type RateLimitEvent struct {
	EventID      string             `json:"event_id" db:"event_id"`
	Kind         RateLimitEventKind `json:"kind" db:"kind"`
	LimitType    string             `json:"limit_type" db:"limit_type"`
	Identifier   string             `json:"identifier" db:"identifier"`
	Key          string             `json:"key" db:"key"`
	Allowed      bool               `json:"allowed" db:"allowed"`
	Remaining    int                `json:"remaining" db:"remaining"`
	ResetSeconds int                `json:"reset_seconds" db:"reset_seconds"`
	AttemptCount int                `json:"attempt_count" db:"attempt_count"`
	Error        string             `json:"error,omitempty" db:"error"`
	OccurredAt   time.Time          `json:"occurred_at" db:"occurred_at"`
}
