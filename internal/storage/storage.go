// Package storage defines the persistence interfaces for the bridge.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionRecord is the last session granted by the backend, persisted so a
// restarted bridge can attempt to extend it instead of starting cold.
type SessionRecord struct {
	SessionID string
	ExpiresAt time.Time
	BaseURL   string
	SavedAt   time.Time
}

// SessionStore persists the most recent session grant.
type SessionStore interface {
	PutSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context) (SessionRecord, error)
	DeleteSession(ctx context.Context) error
}

// TelemetryEvent records one operational event.
type TelemetryEvent struct {
	Timestamp time.Time
	Severity  string
	Component string
	Message   string
	Metadata  map[string]string
}

// TelemetryStore persists operational telemetry events.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
	ListTelemetryEvents(ctx context.Context, limit int) ([]TelemetryEvent, error)
}
