// Package notify pushes operator alerts for custody events. An allow-list of
// event types filters the stream; matching events are formatted once and
// delivered to every configured channel. Delivery problems never propagate
// into the operation that raised the event — callers log and move on.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openvault/vaultd/internal/domain"
)

// Sender delivers one formatted alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, body string) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// headlines maps event types to the alert title line. Types without an entry
// fall back to the raw type name.
var headlines = map[domain.EventType]string{
	domain.EventAccountCreated:    "account created",
	domain.EventStrategyExecuted:  "strategy executed",
	domain.EventClaimCompleted:    "claim completed",
	domain.EventMetaTxExecuted:    "meta-transaction executed",
	domain.EventOwnershipTransfer: "ownership transferred",
	domain.EventTokensWithdrawn:   "tokens withdrawn",
	domain.EventEngineExecuted:    "engine legs executed",
	domain.EventEmergencyRecovery: "emergency recovery",
}

// Notifier fans custody events out to the configured channels.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool // empty allows every type
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. events narrows the
// stream to the named types; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats ev and delivers it to every channel, provided its type is
// on the allow-list. Errors from individual senders are collected into one
// combined error; a failing channel does not block the rest.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.allowed) > 0 && !n.allowed[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(ev.Type)),
		)
		return nil
	}

	title := Headline(ev.Type)
	body := formatBody(ev)

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Headline returns the alert title for an event type.
func Headline(typ domain.EventType) string {
	if h, ok := headlines[typ]; ok {
		return "vaultd: " + h
	}
	return "vaultd: " + string(typ)
}

// formatBody renders the account and the event attributes as key-sorted
// lines, so alerts for the same event type always read the same way.
func formatBody(ev domain.Event) string {
	var b strings.Builder
	b.WriteString("account ")
	b.WriteString(ev.Account.Hex())

	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(ev.Attributes[k])
	}
	return b.String()
}
