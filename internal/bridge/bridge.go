// Package bridge executes orchestrator commands against the host application
// and answers each one with the correlation id it arrived with. Validation
// failures are answered too: a silently dropped command leaves the
// orchestrator with no way to learn it failed.
package bridge

import (
	"context"
	"encoding/json"
	"log"

	"github.com/tablelink/bridge/internal/channel"
	"github.com/tablelink/bridge/internal/host"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/reconcile"
	"github.com/tablelink/bridge/internal/telemetry"
)

// Notifier ships correlated results back to the orchestrator. Satisfied by
// channel.Router.
type Notifier interface {
	Notify(ctx context.Context, endpoint, correlationID string, payload json.RawMessage) error
}

// Bridge is the inbound command executor. It implements
// channel.InboundHandler.
type Bridge struct {
	notifier   Notifier
	reconciler *reconcile.Reconciler
	mutator    host.Mutator
	emitter    *telemetry.Emitter
}

// New wires the command executor. The emitter is optional.
func New(notifier Notifier, reconciler *reconcile.Reconciler, mutator host.Mutator, emitter *telemetry.Emitter) *Bridge {
	return &Bridge{
		notifier:   notifier,
		reconciler: reconciler,
		mutator:    mutator,
		emitter:    emitter,
	}
}

type stateQueryPayload struct {
	ForceRefresh bool `json:"force_refresh,omitempty"`
}

type encounterCreatePayload struct {
	Combatants []host.Combatant `json:"combatants"`
}

type attributeModifyPayload struct {
	EntityID string `json:"entity_id"`
	Path     string `json:"path"`
	Value    any    `json:"value"`
}

// HandleInbound executes one orchestrator command.
func (b *Bridge) HandleInbound(ctx context.Context, envelope channel.Envelope) {
	switch envelope.Type {
	case channel.TypeStateQuery:
		b.handleStateQuery(ctx, envelope)
	case channel.TypeEncounterCreate:
		b.handleEncounterCreate(ctx, envelope)
	case channel.TypeTurnAdvance:
		b.handleTurnAdvance(ctx, envelope)
	case channel.TypeAttributeModify:
		b.handleAttributeModify(ctx, envelope)
	default:
		log.Printf("bridge: ignoring unsupported inbound command %q", envelope.Type)
	}
}

func (b *Bridge) handleStateQuery(ctx context.Context, envelope channel.Envelope) {
	var payload stateQueryPayload
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			b.respondError(ctx, envelope.RequestID, bridgeerrors.Wrap(
				bridgeerrors.CodeMalformedEnvelope, "decode state query", err))
			return
		}
	}
	if payload.ForceRefresh {
		if _, err := b.reconciler.Snapshot(ctx, true); err != nil {
			b.respondError(ctx, envelope.RequestID, err)
			return
		}
	}
	if err := b.reconciler.Transmit(ctx, envelope.RequestID); err != nil {
		log.Printf("bridge: snapshot transmit failed: %v", err)
	}
}

func (b *Bridge) handleEncounterCreate(ctx context.Context, envelope channel.Envelope) {
	var payload encounterCreatePayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		b.respondError(ctx, envelope.RequestID, bridgeerrors.Wrap(
			bridgeerrors.CodeMalformedEnvelope, "decode encounter create", err))
		return
	}
	if err := b.mutator.CreateEncounter(ctx, payload.Combatants); err != nil {
		b.respondError(ctx, envelope.RequestID, err)
		return
	}
	b.reconciler.OnMutationEvent(ctx, reconcile.MutationEvent{Kind: reconcile.EventEncounterCreated})

	snapshot, err := b.reconciler.Snapshot(ctx, false)
	if err != nil {
		b.respondError(ctx, envelope.RequestID, err)
		return
	}
	b.respondSuccess(ctx, envelope.RequestID, snapshot)
}

func (b *Bridge) handleTurnAdvance(ctx context.Context, envelope channel.Envelope) {
	state, err := b.mutator.AdvanceTurn(ctx)
	if err != nil {
		b.respondError(ctx, envelope.RequestID, err)
		return
	}

	// Rolling over to the first combatant is a round change; the host emits
	// no separate turn notification for it.
	if state.TurnIndex == 0 {
		b.reconciler.OnMutationEvent(ctx, reconcile.MutationEvent{
			Kind:  reconcile.EventRoundChanged,
			Round: state.Round,
		})
	} else {
		b.reconciler.OnMutationEvent(ctx, reconcile.MutationEvent{
			Kind:      reconcile.EventTurnChanged,
			TurnIndex: state.TurnIndex,
		})
	}

	b.respondSuccess(ctx, envelope.RequestID, map[string]int{
		"round":      state.Round,
		"turn_index": state.TurnIndex,
	})
}

func (b *Bridge) handleAttributeModify(ctx context.Context, envelope channel.Envelope) {
	var payload attributeModifyPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		b.respondError(ctx, envelope.RequestID, bridgeerrors.Wrap(
			bridgeerrors.CodeMalformedEnvelope, "decode attribute modify", err))
		return
	}
	if err := b.mutator.ApplyAttribute(ctx, payload.EntityID, payload.Path, payload.Value); err != nil {
		b.respondError(ctx, envelope.RequestID, err)
		return
	}
	b.reconciler.OnMutationEvent(ctx, reconcile.MutationEvent{
		Kind:        reconcile.EventCombatantUpdated,
		CombatantID: payload.EntityID,
	})
	b.respondSuccess(ctx, envelope.RequestID, map[string]string{
		"entity_id": payload.EntityID,
		"path":      payload.Path,
	})
}

func (b *Bridge) respondSuccess(ctx context.Context, correlationID string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("bridge: marshal command result: %v", err)
		payload = nil
	}
	b.respond(ctx, correlationID, channel.Result{Success: true, Data: payload})
}

func (b *Bridge) respondError(ctx context.Context, correlationID string, cause error) {
	if b.emitter != nil {
		_ = b.emitter.Emit(ctx, telemetry.SeverityWarn, "bridge", "inbound command failed",
			map[string]string{
				"correlation_id": correlationID,
				"code":           string(bridgeerrors.CodeOf(cause)),
			})
	}
	b.respond(ctx, correlationID, channel.Result{Success: false, Error: cause.Error()})
}

func (b *Bridge) respond(ctx context.Context, correlationID string, result channel.Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Printf("bridge: marshal command result: %v", err)
		return
	}
	if err := b.notifier.Notify(ctx, "command/result", correlationID, payload); err != nil {
		log.Printf("bridge: command result delivery failed: %v", err)
	}
}
