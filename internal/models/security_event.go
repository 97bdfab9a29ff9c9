package models

import "time"

// SecurityEventType enumerates the gate decisions worth auditing.
type SecurityEventType string

const (
	EventRateLimited    SecurityEventType = "rate_limited"
	EventLockedOut      SecurityEventType = "locked_out"
	EventSessionRevoked SecurityEventType = "session_revoked"
	EventTokenRevoked   SecurityEventType = "token_revoked"
	EventFailOpenAdmit  SecurityEventType = "fail_open_admit"
	EventCounterReset   SecurityEventType = "counter_reset"
)

// SecurityEvent is the audit trail entry emitted for every security-relevant
// gate decision. Events are write-only from the gateway's point of view.
type SecurityEvent struct {
	EventID   string            `json:"event_id" db:"event_id"`
	EventTime time.Time         `json:"event_time" db:"event_time"`
	EventType SecurityEventType `json:"event_type" db:"event_type"`
	Identity  string            `json:"identity" db:"identity"`
	Policy    string            `json:"policy,omitempty" db:"policy"`
	Path      string            `json:"path,omitempty" db:"path"`
	Detail    string            `json:"detail,omitempty" db:"detail"`
}
