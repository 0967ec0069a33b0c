package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/domain"
)

type fakeSender struct {
	name   string
	fail   bool
	titles []string
	bodies []string
}

func (s *fakeSender) Send(_ context.Context, title, body string) error {
	if s.fail {
		return errors.New("channel down")
	}
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, body)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func testEvent(typ domain.EventType, attrs map[string]string) domain.Event {
	return domain.Event{
		ID:         "ev-1",
		Type:       typ,
		Account:    common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		Attributes: attrs,
	}
}

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{s}, []string{"claim_completed"}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), testEvent(domain.EventStrategyExecuted, nil)))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(context.Background(), testEvent(domain.EventClaimCompleted, nil)))
	require.Len(t, s.titles, 1)
	assert.Equal(t, "vaultd: claim completed", s.titles[0])
}

func TestNotifyEmptyAllowListForwardsEverything(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), testEvent(domain.EventTokensWithdrawn, nil)))
	require.Len(t, s.titles, 1)
}

func TestNotifyBodyIsKeySorted(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	ev := testEvent(domain.EventStrategyExecuted, map[string]string{
		"fee":    "25",
		"amount": "1000",
	})
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, s.bodies, 1)
	assert.Equal(t,
		"account "+ev.Account.Hex()+"\namount: 1000\nfee: 25",
		s.bodies[0])
}

func TestNotifyCollectsSenderFailures(t *testing.T) {
	broken := &fakeSender{name: "discord", fail: true}
	healthy := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{broken, healthy}, nil, slog.Default())

	err := n.Notify(context.Background(), testEvent(domain.EventClaimCompleted, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
	// The healthy channel still got the alert.
	require.Len(t, healthy.titles, 1)
}

func TestHeadlineFallsBackToRawType(t *testing.T) {
	assert.Equal(t, "vaultd: something_else", Headline(domain.EventType("something_else")))
}
