// Package reconcile keeps a cached snapshot of the live encounter in sync
// with host mutation events and ships it to the orchestrator on demand. The
// snapshot is the single source of truth for transmission: serializing from
// live host state would race the event stream.
package reconcile

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tablelink/bridge/internal/host"
)

// EventKind names a host mutation notification.
type EventKind string

const (
	EventEncounterCreated EventKind = "encounter.created"
	EventEncounterUpdated EventKind = "encounter.updated"
	EventEncounterDeleted EventKind = "encounter.deleted"
	EventTurnChanged      EventKind = "turn.changed"
	EventRoundChanged     EventKind = "round.changed"
	EventCombatantUpdated EventKind = "combatant.updated"
)

// MutationEvent is one notification from the host event stream. Only the
// fields relevant to the kind are set.
type MutationEvent struct {
	Kind        EventKind
	Round       int
	TurnIndex   int
	CombatantID string
}

// Snapshot is the cached encounter view transmitted to the orchestrator.
// The zero value means no active encounter.
type Snapshot struct {
	Active            bool             `json:"active"`
	Round             int              `json:"round"`
	TurnIndex         int              `json:"turn_index"`
	ActiveCombatantID string           `json:"active_combatant_id,omitempty"`
	Combatants        []host.Combatant `json:"combatants,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Transmitter ships a serialized snapshot, echoing the correlation id of the
// command that requested it. Satisfied by channel.Router.
type Transmitter interface {
	Notify(ctx context.Context, endpoint, correlationID string, payload json.RawMessage) error
}

// Reconciler owns the snapshot. Mutation events arrive in emission order;
// the turn and round handling below depends on that.
type Reconciler struct {
	reader      host.Reader
	transmitter Transmitter
	clock       func() time.Time

	snapshot Snapshot
}

// New creates a reconciler with an empty, inactive snapshot.
func New(reader host.Reader, transmitter Transmitter) *Reconciler {
	return &Reconciler{
		reader:      reader,
		transmitter: transmitter,
		clock:       time.Now,
	}
}

// OnMutationEvent folds one host notification into the snapshot.
//
// Creation rebuilds from the authoritative read and resolves the initial
// active combatant immediately: the host reports "no turn begun" as index
// -1, which maps to the first combatant in turn order, the same resting
// point as an explicit turn 0.
//
// A round change always recomputes the active combatant as turn-order index
// 0, because the host does not emit a separate turn change for the first
// combatant of a new round. A turn change takes the payload index verbatim:
// recomputing from ambient state is unreliable during rapid successive
// updates.
//
// Deletion clears the snapshot wholesale so stale combatants cannot leak
// into the next encounter.
func (r *Reconciler) OnMutationEvent(ctx context.Context, event MutationEvent) {
	switch event.Kind {
	case EventEncounterCreated:
		if err := r.rebuild(ctx); err != nil {
			log.Printf("reconcile: rebuild after creation failed: %v", err)
		}
	case EventEncounterUpdated, EventCombatantUpdated:
		if !r.snapshot.Active {
			return
		}
		if err := r.rebuild(ctx); err != nil {
			log.Printf("reconcile: rebuild after %s failed: %v", event.Kind, err)
		}
	case EventRoundChanged:
		if !r.snapshot.Active {
			return
		}
		r.snapshot.Round = event.Round
		r.snapshot.TurnIndex = 0
		r.snapshot.ActiveCombatantID = combatantAt(r.snapshot.Combatants, 0)
		r.snapshot.UpdatedAt = r.clock()
	case EventTurnChanged:
		if !r.snapshot.Active {
			return
		}
		r.snapshot.TurnIndex = event.TurnIndex
		r.snapshot.ActiveCombatantID = combatantAt(r.snapshot.Combatants, event.TurnIndex)
		r.snapshot.UpdatedAt = r.clock()
	case EventEncounterDeleted:
		r.snapshot = Snapshot{}
	default:
		log.Printf("reconcile: ignoring unknown mutation event %q", event.Kind)
	}
}

// Snapshot returns a copy of the cached snapshot, optionally forcing a full
// rebuild from the authoritative host read first.
func (r *Reconciler) Snapshot(ctx context.Context, forceRefresh bool) (Snapshot, error) {
	if forceRefresh {
		if err := r.rebuild(ctx); err != nil {
			return Snapshot{}, err
		}
	}
	return r.copySnapshot(), nil
}

// Transmit serializes the cached snapshot and ships it, tagged with the
// correlation id of the inbound command that asked for it (empty for
// unsolicited updates).
func (r *Reconciler) Transmit(ctx context.Context, correlationID string) error {
	payload, err := json.Marshal(r.copySnapshot())
	if err != nil {
		return err
	}
	return r.transmitter.Notify(ctx, "state/update", correlationID, payload)
}

func (r *Reconciler) rebuild(ctx context.Context) error {
	state, err := r.reader.EncounterState(ctx)
	if err != nil {
		return err
	}
	if !state.Exists {
		r.snapshot = Snapshot{}
		return nil
	}

	turnIndex := state.TurnIndex
	if turnIndex < 0 {
		turnIndex = 0
	}
	r.snapshot = Snapshot{
		Active:            true,
		Round:             state.Round,
		TurnIndex:         turnIndex,
		ActiveCombatantID: combatantAt(state.Combatants, turnIndex),
		Combatants:        append([]host.Combatant(nil), state.Combatants...),
		UpdatedAt:         r.clock(),
	}
	return nil
}

func (r *Reconciler) copySnapshot() Snapshot {
	snapshot := r.snapshot
	snapshot.Combatants = append([]host.Combatant(nil), r.snapshot.Combatants...)
	return snapshot
}

func combatantAt(combatants []host.Combatant, index int) string {
	if index < 0 || index >= len(combatants) {
		return ""
	}
	return combatants[index].ID
}
