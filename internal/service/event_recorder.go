package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/domain"
)

// EventChannel is the pub/sub channel event envelopes are published on.
// Per-account streams use EventChannel + ":" + handle hex.
const EventChannel = "vault.events"

// Notifier is the slice of the notify package the recorder needs.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// EventRecorder implements domain.EventSink by fanning every emitted event
// out to the persistent log, the signal bus, the investment store, and the
// operator notifier. Recording never fails the emitting operation; problems
// are logged and dropped.
type EventRecorder struct {
	events      domain.EventStore      // optional
	investments domain.InvestmentStore // optional
	bus         domain.SignalBus       // optional
	notifier    Notifier               // optional
	log         *slog.Logger
}

// NewEventRecorder creates the recorder. Any collaborator may be nil.
func NewEventRecorder(
	events domain.EventStore,
	investments domain.InvestmentStore,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{
		events:      events,
		investments: investments,
		bus:         bus,
		notifier:    notifier,
		log:         logger.With("component", "event_recorder"),
	}
}

// Emit records ev everywhere it is wired to go.
func (r *EventRecorder) Emit(ctx context.Context, ev domain.Event) {
	if r.events != nil {
		if err := r.events.Append(ctx, ev); err != nil {
			r.log.ErrorContext(ctx, "event append failed",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	if ev.Type == domain.EventStrategyExecuted && r.investments != nil {
		if entry, ok := investmentFromEvent(ev); ok {
			if err := r.investments.Record(ctx, entry); err != nil {
				r.log.ErrorContext(ctx, "investment record failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(envelope{
			ID:         ev.ID,
			Type:       string(ev.Type),
			Account:    ev.Account.Hex(),
			Attributes: ev.Attributes,
			CreatedAt:  ev.CreatedAt,
		})
		if err == nil {
			if err := r.bus.Publish(ctx, EventChannel, payload); err != nil {
				r.log.WarnContext(ctx, "event publish failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
			_ = r.bus.Publish(ctx, EventChannel+":"+ev.Account.Hex(), payload)
		}
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, ev); err != nil {
			r.log.WarnContext(ctx, "notify failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

type envelope struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// investmentFromEvent reconstructs the invested-total movement carried in a
// strategy-executed event's attributes.
func investmentFromEvent(ev domain.Event) (domain.InvestmentEntry, bool) {
	delta, ok1 := new(big.Int).SetString(ev.Attributes["invested"], 10)
	cumulative, ok2 := new(big.Int).SetString(ev.Attributes["cumulative"], 10)
	requester := ev.Attributes["requester"]
	if !ok1 || !ok2 || requester == "" {
		return domain.InvestmentEntry{}, false
	}
	return domain.InvestmentEntry{
		Account:    ev.Account,
		Requester:  common.HexToAddress(requester),
		Delta:      delta,
		Cumulative: cumulative,
		CreatedAt:  ev.CreatedAt,
	}, true
}

var _ domain.EventSink = (*EventRecorder)(nil)
