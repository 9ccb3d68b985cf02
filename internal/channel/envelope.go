// Package channel carries traffic between the bridge and the orchestrator
// backend over two transports: a persistent WebSocket connection and an HTTP
// request/response fallback. The Router picks whichever is usable.
package channel

import "encoding/json"

// Envelope is the wire shape shared by both directions of the persistent
// channel. RequestID correlates a response to the command that caused it and
// is omitted on fire-and-forget notifications.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Inbound envelope types issued by the orchestrator.
const (
	TypeStateQuery      = "state.query"
	TypeEncounterCreate = "encounter.create"
	TypeTurnAdvance     = "turn.advance"
	TypeAttributeModify = "attribute.modify"
	TypePong            = "pong"
)

// Outbound envelope types issued by the bridge.
const (
	TypeStateUpdate   = "state.update"
	TypeCommandResult = "command.result"
	TypePing          = "ping"
)
