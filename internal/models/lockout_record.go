package models

import "time"

// LockoutRecord is a temporary hard block on a key. At most one live
// record exists per key; relocking an already-locked key overwrites it.
type LockoutRecord struct {
	Key         string    `json:"key"`
	LockedUntil time.Time `json:"locked_until"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the lock still applies at the given instant.
func (l LockoutRecord) Active(now time.Time) bool {
	return l.LockedUntil.After(now)
}
