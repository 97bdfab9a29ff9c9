package models

import "time"

// RateWindowEvent is one admitted attempt inside a trailing window.
// Events are immutable once recorded; they stop counting the moment
// ExpiresAt passes, whether or not a sweep has removed them yet.
type RateWindowEvent struct {
	Key       string    `json:"key"` // "{identifier}:{policy_name}"
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"` // Timestamp + window
}

// Expired reports whether the event no longer counts at the given instant.
func (e RateWindowEvent) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
