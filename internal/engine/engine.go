// Package engine implements the fixed yield strategy: pull the caller's
// base-asset funding, deposit half into the lending pool, swap the other
// half into the secondary asset and deposit that too. The engine keeps no
// position of its own; receipts always land with the caller.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openvault/vaultd/internal/account"
	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
)

const defaultSwapDeadline = 2 * time.Minute

// Config binds the executor to its venues. All fields are immutable after
// construction; the executor carries no per-call state.
type Config struct {
	Address      common.Address
	Assets       domain.AssetSet
	Pool         protocol.LendingPool
	Router       protocol.SwapRouter
	SlippageBps  uint64
	SwapFeeTier  uint32
	SwapDeadline time.Duration
}

// Executor is the strategy engine. One instance serves every account.
type Executor struct {
	cfg  Config
	led  *ledger.Ledger
	sink domain.EventSink
	log  *slog.Logger
}

// New validates cfg and constructs the executor.
func New(cfg Config, led *ledger.Ledger, sink domain.EventSink, logger *slog.Logger) (*Executor, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("engine: address must be set")
	}
	if cfg.Pool == nil || cfg.Router == nil {
		return nil, fmt.Errorf("engine: pool and router must be set")
	}
	if led == nil {
		return nil, fmt.Errorf("engine: ledger must be set")
	}
	if cfg.SwapDeadline <= 0 {
		cfg.SwapDeadline = defaultSwapDeadline
	}
	if sink == nil {
		sink = domain.NopSink
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:  cfg,
		led:  led,
		sink: sink,
		log:  logger.With("component", "engine", "engine", cfg.Address.Hex()),
	}, nil
}

// Address returns the engine's ledger address.
func (e *Executor) Address() common.Address { return e.cfg.Address }

// Run pulls amount of the base asset from caller (the caller must have
// approved it first) and splits it across the two legs. The swapped leg
// takes the odd unit, so an amount of 1001 becomes 500 deposited and 501
// swapped. Both deposits credit receipts to the caller, never the engine.
func (e *Executor) Run(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: run: %w", domain.ErrZeroAmount)
	}
	if err := e.led.TransferFrom(e.cfg.Assets.Base, e.cfg.Address, caller, e.cfg.Address, amount); err != nil {
		return fmt.Errorf("engine: pull funding: %w", err)
	}

	legA := new(big.Int).Rsh(amount, 1)
	legB := new(big.Int).Sub(amount, legA)

	if legA.Sign() > 0 {
		if err := e.led.Approve(e.cfg.Assets.Base, e.cfg.Address, e.cfg.Pool.Address(), legA); err != nil {
			return fmt.Errorf("engine: approve deposit: %w", err)
		}
		if err := e.cfg.Pool.Deposit(ctx, e.cfg.Address, e.cfg.Assets.Base, legA, caller); err != nil {
			return fmt.Errorf("engine: deposit base leg: %w", err)
		}
	}

	if err := e.led.Approve(e.cfg.Assets.Base, e.cfg.Address, e.cfg.Router.Address(), legB); err != nil {
		return fmt.Errorf("engine: approve swap: %w", err)
	}
	minOut := new(big.Int).Mul(legB, new(big.Int).SetUint64(10_000-e.cfg.SlippageBps))
	minOut.Div(minOut, domain.BasisPoints)
	received, err := e.cfg.Router.SwapExactIn(ctx, protocol.SwapParams{
		Caller:       e.cfg.Address,
		TokenIn:      e.cfg.Assets.Base,
		TokenOut:     e.cfg.Assets.Secondary,
		FeeTier:      e.cfg.SwapFeeTier,
		Recipient:    e.cfg.Address,
		Deadline:     time.Now().Add(e.cfg.SwapDeadline),
		AmountIn:     legB,
		MinAmountOut: minOut,
	})
	if err != nil {
		return fmt.Errorf("engine: swap leg: %w", err)
	}

	if received.Sign() > 0 {
		if err := e.led.Approve(e.cfg.Assets.Secondary, e.cfg.Address, e.cfg.Pool.Address(), received); err != nil {
			return fmt.Errorf("engine: approve deposit: %w", err)
		}
		if err := e.cfg.Pool.Deposit(ctx, e.cfg.Address, e.cfg.Assets.Secondary, received, caller); err != nil {
			return fmt.Errorf("engine: deposit secondary leg: %w", err)
		}
	}

	e.log.Info("strategy run", "caller", caller.Hex(),
		"amount", amount.String(), "deposited", legA.String(), "swapped", received.String())
	e.sink.Emit(ctx, domain.Event{
		ID:      uuid.NewString(),
		Type:    domain.EventEngineExecuted,
		Account: caller,
		Attributes: map[string]string{
			"engine":             e.cfg.Address.Hex(),
			"amount":             amount.String(),
			"deposited":          legA.String(),
			"secondary_received": received.String(),
		},
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Recover sends any balance of asset stranded at the engine's address to
// the invoking address. The engine is supposed to end every run empty, so a
// non-zero balance here means an earlier run was interrupted.
func (e *Executor) Recover(ctx context.Context, caller common.Address, asset domain.Asset) (*big.Int, error) {
	held := e.led.BalanceOf(asset, e.cfg.Address)
	if held.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.led.Transfer(asset, e.cfg.Address, caller, held); err != nil {
		return nil, fmt.Errorf("engine: recover %s: %w", asset, err)
	}
	e.log.Warn("emergency recovery", "asset", string(asset), "amount", held.String(), "recipient", caller.Hex())
	e.sink.Emit(ctx, domain.Event{
		ID:      uuid.NewString(),
		Type:    domain.EventEmergencyRecovery,
		Account: caller,
		Attributes: map[string]string{
			"engine": e.cfg.Address.Hex(),
			"asset":  string(asset),
			"amount": held.String(),
		},
		CreatedAt: time.Now().UTC(),
	})
	return held, nil
}

var _ account.Engine = (*Executor)(nil)
