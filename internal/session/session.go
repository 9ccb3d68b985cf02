// Package session owns the backend session lifecycle: creation, extension,
// proactive refresh scheduling, retry policy, and expiry classification.
package session

import (
	"strings"
	"time"
)

// State classifies a session by time to expiry.
type State string

const (
	// StateInvalid indicates no session has been granted.
	StateInvalid State = "invalid"
	// StateValid indicates the session is comfortably inside its lifetime.
	StateValid State = "valid"
	// StateWarning indicates expiry is near and refresh should be frequent.
	StateWarning State = "warning"
	// StateCritical indicates expiry is imminent.
	StateCritical State = "critical"
	// StateExpired indicates the expiry time has passed.
	StateExpired State = "expired"
)

// Session is the opaque backend session grant.
//
// The id carries no structure the bridge may rely on; expiry comes solely
// from the grant response.
type Session struct {
	ID        string
	ExpiresAt time.Time
}

// ValidAt reports whether the session is usable at the given instant.
func (s Session) ValidAt(now time.Time) bool {
	return strings.TrimSpace(s.ID) != "" && !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// StateAt classifies the session against the warning and critical thresholds.
func (s Session) StateAt(now time.Time, warningThreshold, criticalThreshold time.Duration) State {
	if strings.TrimSpace(s.ID) == "" || s.ExpiresAt.IsZero() {
		return StateInvalid
	}
	timeToExpiry := s.ExpiresAt.Sub(now)
	switch {
	case timeToExpiry <= 0:
		return StateExpired
	case timeToExpiry <= criticalThreshold:
		return StateCritical
	case timeToExpiry <= warningThreshold:
		return StateWarning
	default:
		return StateValid
	}
}
