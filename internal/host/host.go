// Package host defines the contract to the tabletop application the bridge
// is embedded in. The host is trusted and always available in-process; reads
// are authoritative and mutations are synchronous.
package host

import "context"

// Combatant is one participant in an encounter, positioned by turn order.
type Combatant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EncounterState is the authoritative view of the tracked encounter.
// TurnIndex is -1 while no turn has begun, which is distinct from turn 0
// being underway.
type EncounterState struct {
	Exists     bool
	Round      int
	TurnIndex  int
	Combatants []Combatant
}

// Reader exposes authoritative reads of live host state.
type Reader interface {
	EncounterState(ctx context.Context) (EncounterState, error)
	EntityExists(ctx context.Context, entityID string) (bool, error)
}

// Mutator applies orchestrator-issued changes to host state.
type Mutator interface {
	CreateEncounter(ctx context.Context, combatants []Combatant) error
	AdvanceTurn(ctx context.Context) (EncounterState, error)
	ApplyAttribute(ctx context.Context, entityID, path string, value any) error
}
