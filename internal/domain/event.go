package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType enumerates the observable records the core emits.
type EventType string

const (
	EventAccountCreated    EventType = "account_created"
	EventStrategyExecuted  EventType = "strategy_executed"
	EventClaimCompleted    EventType = "claim_completed"
	EventMetaTxExecuted    EventType = "metatx_executed"
	EventOwnershipTransfer EventType = "ownership_transferred"
	EventTokensWithdrawn   EventType = "tokens_withdrawn"
	EventEngineExecuted    EventType = "engine_strategy_executed"
	EventEmergencyRecovery EventType = "emergency_recovery"
)

// Event is one emitted record. Attributes hold the event-specific fields as
// decimal/hex strings so the envelope stays storage- and wire-friendly.
type Event struct {
	ID         string
	Type       EventType
	Account    common.Address
	Attributes map[string]string
	CreatedAt  time.Time
}

// EventSink receives events as the core emits them. Implementations must not
// fail the emitting operation; recording problems are their own to log.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// NopSink discards all events.
var NopSink EventSink = EventSinkFunc(func(context.Context, Event) {})
