// Package telemetry records operational events raised by the bridge, such as
// session refreshes, circuit breaker transitions, and channel fallbacks.
package telemetry

import (
	"context"
	"time"

	"github.com/tablelink/bridge/internal/storage"
)

// Severity describes the telemetry severity level.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Emitter records operational telemetry events.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates a new telemetry emitter.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records a telemetry event. It is a no-op when the store is nil, so
// callers never need to guard emission sites.
func (e *Emitter) Emit(ctx context.Context, severity Severity, component, message string, metadata map[string]string) error {
	if e == nil || e.store == nil {
		return nil
	}
	clock := e.clock
	if clock == nil {
		clock = time.Now
	}
	return e.store.AppendTelemetryEvent(ctx, storage.TelemetryEvent{
		Timestamp: clock().UTC(),
		Severity:  string(severity),
		Component: component,
		Message:   message,
		Metadata:  metadata,
	})
}
