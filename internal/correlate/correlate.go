// Package correlate matches asynchronous command responses to the calls that
// dispatched them. The pending table is private to this package: callers go
// through Dispatch and Resolve only, so no other component can mutate it.
package correlate

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tablelink/bridge/internal/id"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
)

type pendingCommand struct {
	createdAt time.Time
	response  chan json.RawMessage
}

// Table tracks outstanding correlated commands.
type Table struct {
	mu      sync.Mutex
	pending map[string]*pendingCommand
	clock   func() time.Time
}

// NewTable creates an empty correlation table.
func NewTable() *Table {
	return &Table{
		pending: make(map[string]*pendingCommand),
		clock:   time.Now,
	}
}

// Dispatch generates a fresh correlation id, registers a pending record,
// invokes send with the id, and waits for the matching response. The timeout
// is operation-specific: liveness probes use a short budget, side-effecting
// operations a long one, because abandoning a command still executing
// remotely would desynchronize both sides' understanding of the outcome.
//
// The pending record is released on response, timeout, or context
// cancellation, whichever comes first.
func (t *Table) Dispatch(ctx context.Context, send func(correlationID string) error, timeout time.Duration) (json.RawMessage, error) {
	correlationID, err := id.NewID()
	if err != nil {
		return nil, err
	}

	record := &pendingCommand{
		createdAt: t.now(),
		response:  make(chan json.RawMessage, 1),
	}
	t.mu.Lock()
	t.pending[correlationID] = record
	t.mu.Unlock()

	if err := send(correlationID); err != nil {
		t.remove(correlationID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-record.response:
		return response, nil
	case <-timer.C:
		t.remove(correlationID)
		return nil, bridgeerrors.WithMetadata(bridgeerrors.CodeRequestTimeout,
			"correlated command timed out", map[string]string{"correlation_id": correlationID})
	case <-ctx.Done():
		t.remove(correlationID)
		return nil, ctx.Err()
	}
}

// Resolve delivers a response to the pending command with the given
// correlation id. Removal and resolution are atomic: a correlation id
// resolves at most once, and responses arriving after the record is gone
// (timeout or duplicate) are logged and discarded.
func (t *Table) Resolve(correlationID string, response json.RawMessage) bool {
	t.mu.Lock()
	record, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()

	if !ok {
		log.Printf("correlate: discarding response for unknown or settled correlation id %q", correlationID)
		return false
	}
	record.response <- response
	return true
}

// PendingCount reports the number of outstanding commands.
func (t *Table) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) remove(correlationID string) {
	t.mu.Lock()
	delete(t.pending, correlationID)
	t.mu.Unlock()
}

func (t *Table) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock()
}
