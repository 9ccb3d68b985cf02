package host

import (
	"context"
	"strings"
	"sync"

	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
)

// Fake is an in-memory host used by tests and offline paths. Entities hold a
// nested attribute tree addressed by dotted paths ("resources.hp.current").
type Fake struct {
	mu        sync.Mutex
	encounter EncounterState
	entities  map[string]map[string]any
}

// NewFake creates an empty fake host with no active encounter.
func NewFake() *Fake {
	return &Fake{
		encounter: EncounterState{TurnIndex: -1},
		entities:  make(map[string]map[string]any),
	}
}

// SetEncounter replaces the authoritative encounter state.
func (f *Fake) SetEncounter(state EncounterState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encounter = state
}

// SetEntity registers an entity and its attribute tree.
func (f *Fake) SetEntity(entityID string, attributes map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[entityID] = attributes
}

func (f *Fake) EncounterState(_ context.Context) (EncounterState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.encounter
	state.Combatants = append([]Combatant(nil), f.encounter.Combatants...)
	return state, nil
}

func (f *Fake) EntityExists(_ context.Context, entityID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entities[entityID]
	return ok, nil
}

func (f *Fake) CreateEncounter(_ context.Context, combatants []Combatant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encounter = EncounterState{
		Exists:     true,
		Round:      0,
		TurnIndex:  -1,
		Combatants: append([]Combatant(nil), combatants...),
	}
	return nil
}

// AdvanceTurn moves to the next combatant, rolling over to a new round after
// the last one.
func (f *Fake) AdvanceTurn(_ context.Context) (EncounterState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.encounter.Exists {
		return EncounterState{}, bridgeerrors.New(bridgeerrors.CodeEncounterInactive, "no active encounter")
	}
	if len(f.encounter.Combatants) == 0 {
		return EncounterState{}, bridgeerrors.New(bridgeerrors.CodeEncounterInactive, "encounter has no combatants")
	}

	next := f.encounter.TurnIndex + 1
	if next >= len(f.encounter.Combatants) {
		next = 0
		f.encounter.Round++
	}
	f.encounter.TurnIndex = next

	state := f.encounter
	state.Combatants = append([]Combatant(nil), f.encounter.Combatants...)
	return state, nil
}

// ApplyAttribute validates the entity and the full attribute path before
// mutating. A missing entity and a dangling path are distinct failures so
// the orchestrator can tell them apart.
func (f *Fake) ApplyAttribute(_ context.Context, entityID, path string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attributes, ok := f.entities[entityID]
	if !ok {
		return bridgeerrors.WithMetadata(bridgeerrors.CodeEntityNotFound,
			"entity does not exist", map[string]string{"entity_id": entityID})
	}

	segments := strings.Split(strings.TrimSpace(path), ".")
	if len(segments) == 0 || segments[0] == "" {
		return bridgeerrors.New(bridgeerrors.CodeAttributePathInvalid, "attribute path is empty")
	}

	node := attributes
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			return invalidPath(entityID, path)
		}
		node = child
	}
	leaf := segments[len(segments)-1]
	if _, ok := node[leaf]; !ok {
		return invalidPath(entityID, path)
	}
	node[leaf] = value
	return nil
}

func invalidPath(entityID, path string) error {
	return bridgeerrors.WithMetadata(bridgeerrors.CodeAttributePathInvalid,
		"attribute path does not exist", map[string]string{"entity_id": entityID, "path": path})
}
