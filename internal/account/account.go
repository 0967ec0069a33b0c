// Package account implements the delegated-custody unit: an
// identity-addressed holder of ledger balances that only its owner (directly
// or through a signed meta-transaction) can move. All protected entry points
// share one reentrancy guard and roll back atomically on failure.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
)

const defaultSwapDeadline = 2 * time.Minute

// Engine is the strategy executor an account delegates to. Run pulls the
// approved amount from caller and invests it on caller's behalf.
type Engine interface {
	Address() common.Address
	Run(ctx context.Context, caller common.Address, amount *big.Int) error
}

// EngineResolver maps an engine address named in a meta-tx payload to a
// live engine instance.
type EngineResolver interface {
	Resolve(addr common.Address) (Engine, bool)
}

// TargetResolver maps a raw-call target address to a callable instance.
type TargetResolver interface {
	Target(addr common.Address) (protocol.Callable, bool)
}

// Config fixes an account's identity and policy at construction. Owner is
// the only mutable binding afterwards, and only via TransferOwnership.
type Config struct {
	Handle       common.Address
	Owner        common.Address
	FeeRecipient common.Address // zero address disables the fee entirely
	FeeRateBps   uint64
	Assets       domain.AssetSet
	ChainID      int
	SlippageBps  uint64
	SwapFeeTier  uint32
	SwapDeadline time.Duration

	DefaultEngine Engine // optional
	Engines       EngineResolver
	Targets       TargetResolver
	Pool          protocol.LendingPool
	Router        protocol.SwapRouter
	Puller        protocol.BalancePuller
}

// Account is the live custody unit. One instance per provisioned handle;
// safe for concurrent use, though protected operations serialize through
// the reentrancy guard.
type Account struct {
	cfg Config
	led *ledger.Ledger
	log *slog.Logger

	busy atomic.Bool

	mu       sync.Mutex
	owner    common.Address
	nonce    uint64
	asSelf   bool // meta-tx inner dispatch in progress
	invested map[common.Address]*big.Int

	sink domain.EventSink
}

// New validates cfg and constructs the account.
func New(cfg Config, led *ledger.Ledger, sink domain.EventSink, logger *slog.Logger) (*Account, error) {
	if cfg.Handle == (common.Address{}) {
		return nil, fmt.Errorf("account: handle must be set")
	}
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("account: owner must be set")
	}
	if cfg.FeeRateBps > domain.MaxFeeRateBps {
		return nil, fmt.Errorf("account: fee rate %d: %w", cfg.FeeRateBps, domain.ErrFeeRateTooHigh)
	}
	if led == nil {
		return nil, fmt.Errorf("account: ledger must be set")
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
	return &Account{
		cfg:      cfg,
		led:      led,
		log:      logger.With("component", "account", "account", cfg.Handle.Hex()),
		owner:    cfg.Owner,
		invested: make(map[common.Address]*big.Int),
		sink:     sink,
	}, nil
}

// Handle returns the account's ledger address.
func (a *Account) Handle() common.Address { return a.cfg.Handle }

// Owner returns the current owner.
func (a *Account) Owner() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Nonce returns the next expected meta-transaction nonce.
func (a *Account) Nonce() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonce
}

// InvestedTotal returns the cumulative net amount invested for requester.
func (a *Account) InvestedTotal(requester common.Address) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v := a.invested[requester]; v != nil {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// enter takes the reentrancy guard and opens the ledger transition scope;
// the returned release must run on every exit path. A protected method
// reached while another holds the guard is a reentrant call and is rejected,
// never queued. The transition scope serializes compound operations across
// every account sharing the ledger, so a rollback here can only undo this
// operation's own writes.
func (a *Account) enter() (func(), error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrReentrancy
	}
	end := a.led.Begin()
	return func() {
		end()
		a.busy.Store(false)
	}, nil
}

// authorized reports whether caller may use a protected operation: the
// owner directly, or the account itself while a verified meta-transaction
// is being dispatched.
func (a *Account) authorized(caller common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller == a.owner {
		return nil
	}
	if a.asSelf && caller == a.cfg.Handle {
		return nil
	}
	return domain.ErrUnauthorized
}

// RunStrategy skims the fee and delegates amount-fee to the engine. A nil
// engine selects the configured default. The fee transfer and the engine
// invocation commit or roll back together.
func (a *Account) RunStrategy(ctx context.Context, caller common.Address, eng Engine, amount *big.Int) error {
	release, err := a.enter()
	if err != nil {
		return err
	}
	defer release()
	return a.runStrategy(ctx, caller, eng, amount)
}

func (a *Account) runStrategy(ctx context.Context, caller common.Address, eng Engine, amount *big.Int) error {
	if err := a.authorized(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	if eng == nil {
		eng = a.cfg.DefaultEngine
	}
	if eng == nil {
		return domain.ErrNoTarget
	}

	fee := big.NewInt(0)
	if a.cfg.FeeRecipient != (common.Address{}) && a.cfg.FeeRateBps > 0 {
		fee.Mul(amount, new(big.Int).SetUint64(a.cfg.FeeRateBps))
		fee.Div(fee, domain.BasisPoints)
	}
	if fee.Cmp(amount) > 0 {
		return domain.ErrFeeExceedsAmount
	}
	net := new(big.Int).Sub(amount, fee)

	rev := a.led.Snapshot()
	if fee.Sign() > 0 {
		if err := a.led.Transfer(a.cfg.Assets.Base, a.cfg.Handle, a.cfg.FeeRecipient, fee); err != nil {
			a.led.RevertTo(rev)
			return fmt.Errorf("account: skim fee: %w", err)
		}
	}
	if err := a.led.Approve(a.cfg.Assets.Base, a.cfg.Handle, eng.Address(), net); err != nil {
		a.led.RevertTo(rev)
		return fmt.Errorf("account: approve engine: %w", err)
	}
	if err := eng.Run(ctx, a.cfg.Handle, net); err != nil {
		a.led.RevertTo(rev)
		return fmt.Errorf("account: engine %s: %w", eng.Address().Hex(), err)
	}

	a.mu.Lock()
	requester := a.owner
	total := a.invested[requester]
	if total == nil {
		total = big.NewInt(0)
	}
	total = new(big.Int).Add(total, net)
	a.invested[requester] = total
	cumulative := new(big.Int).Set(total)
	a.mu.Unlock()

	a.log.Info("strategy executed",
		"engine", eng.Address().Hex(), "amount", amount.String(), "fee", fee.String())
	a.emit(ctx, domain.EventStrategyExecuted, map[string]string{
		"engine":     eng.Address().Hex(),
		"requester":  requester.Hex(),
		"amount":     amount.String(),
		"fee":        fee.String(),
		"invested":   net.String(),
		"cumulative": cumulative.String(),
	})
	return nil
}

// ExecuteStrategy is the authorized escape hatch: a typed command aimed at
// an explicit target. Failures surface as hard errors naming the target.
func (a *Account) ExecuteStrategy(ctx context.Context, caller, target common.Address, cmd domain.Command) error {
	release, err := a.enter()
	if err != nil {
		return err
	}
	defer release()
	return a.executeStrategy(ctx, caller, target, cmd)
}

func (a *Account) executeStrategy(ctx context.Context, caller, target common.Address, cmd domain.Command) error {
	if err := a.authorized(caller); err != nil {
		return err
	}
	switch cmd.Kind {
	case domain.CommandApprove:
		spender := cmd.Spender
		if spender == (common.Address{}) {
			spender = target
		}
		if spender == (common.Address{}) {
			return domain.ErrNoTarget
		}
		if err := a.led.Approve(cmd.Asset, a.cfg.Handle, spender, cmd.Amount); err != nil {
			return fmt.Errorf("account: approve %s for %s: %w", cmd.Asset, spender.Hex(), err)
		}
		return nil
	case domain.CommandWithdraw:
		if a.cfg.Puller == nil || target != a.cfg.Puller.Address() {
			return fmt.Errorf("account: withdraw target %s: %w", target.Hex(), domain.ErrNoTarget)
		}
		if err := a.cfg.Puller.Withdraw(ctx, a.cfg.Handle, cmd.Amount); err != nil {
			return fmt.Errorf("account: withdraw from %s: %w", target.Hex(), err)
		}
		return nil
	case domain.CommandRawCall:
		if a.cfg.Targets == nil {
			return fmt.Errorf("account: call target %s: %w", target.Hex(), domain.ErrNoTarget)
		}
		callable, ok := a.cfg.Targets.Target(target)
		if !ok {
			return fmt.Errorf("account: call target %s: %w", target.Hex(), domain.ErrNoTarget)
		}
		if err := callable.Call(ctx, a.cfg.Handle, cmd.Method, cmd.Args); err != nil {
			return fmt.Errorf("account: call %s.%s: %w", target.Hex(), cmd.Method, err)
		}
		return nil
	default:
		return fmt.Errorf("account: unknown command kind %q", cmd.Kind)
	}
}

// TransferAsset moves amount of asset from the account's custody to the
// owner. No fee is taken and invested totals are untouched.
func (a *Account) TransferAsset(ctx context.Context, caller common.Address, asset domain.Asset, amount *big.Int) error {
	release, err := a.enter()
	if err != nil {
		return err
	}
	defer release()
	return a.transferAsset(ctx, caller, asset, amount)
}

func (a *Account) transferAsset(ctx context.Context, caller common.Address, asset domain.Asset, amount *big.Int) error {
	if err := a.authorized(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	a.mu.Lock()
	owner := a.owner
	a.mu.Unlock()
	if err := a.led.Transfer(asset, a.cfg.Handle, owner, amount); err != nil {
		return fmt.Errorf("account: transfer asset: %w", err)
	}
	a.emit(ctx, domain.EventTokensWithdrawn, map[string]string{
		"asset":     string(asset),
		"amount":    amount.String(),
		"recipient": owner.Hex(),
	})
	return nil
}

// Claim unwinds the position end to end: redeem both receipt holdings for
// their underlying, swap any secondary back to base, and sweep the whole
// base balance to the owner. The guard is held for the full pipeline and
// any step failing rolls back every prior step.
func (a *Account) Claim(ctx context.Context, caller common.Address) error {
	release, err := a.enter()
	if err != nil {
		return err
	}
	defer release()
	return a.claim(ctx, caller)
}

func (a *Account) claim(ctx context.Context, caller common.Address) error {
	if err := a.authorized(caller); err != nil {
		return err
	}
	if a.cfg.Pool == nil || a.cfg.Router == nil {
		return domain.ErrNoTarget
	}
	assets := a.cfg.Assets

	snapBase := a.led.BalanceOf(assets.ReceiptBase, a.cfg.Handle)
	snapSecondary := a.led.BalanceOf(assets.ReceiptSecondary, a.cfg.Handle)

	rev := a.led.Snapshot()
	for _, receipt := range []domain.Asset{assets.ReceiptBase, assets.ReceiptSecondary} {
		held := a.led.BalanceOf(receipt, a.cfg.Handle)
		if held.Sign() == 0 {
			continue
		}
		if err := a.led.Approve(receipt, a.cfg.Handle, a.cfg.Pool.Address(), held); err != nil {
			a.led.RevertTo(rev)
			return fmt.Errorf("account: claim approve %s: %w", receipt, err)
		}
		underlying := assets.Underlying(receipt)
		if _, err := a.cfg.Pool.Withdraw(ctx, a.cfg.Handle, underlying, protocol.WithdrawAll, a.cfg.Handle); err != nil {
			a.led.RevertTo(rev)
			return fmt.Errorf("account: claim redeem %s: %w", receipt, err)
		}
	}

	if secBal := a.led.BalanceOf(assets.Secondary, a.cfg.Handle); secBal.Sign() > 0 {
		if err := a.led.Approve(assets.Secondary, a.cfg.Handle, a.cfg.Router.Address(), secBal); err != nil {
			a.led.RevertTo(rev)
			return fmt.Errorf("account: claim approve swap: %w", err)
		}
		minOut := new(big.Int).Mul(secBal, new(big.Int).SetUint64(domain.MaxFeeRateBps-a.cfg.SlippageBps))
		minOut.Div(minOut, domain.BasisPoints)
		_, err := a.cfg.Router.SwapExactIn(ctx, protocol.SwapParams{
			Caller:       a.cfg.Handle,
			TokenIn:      assets.Secondary,
			TokenOut:     assets.Base,
			FeeTier:      a.cfg.SwapFeeTier,
			Recipient:    a.cfg.Handle,
			Deadline:     time.Now().Add(a.cfg.SwapDeadline),
			AmountIn:     secBal,
			MinAmountOut: minOut,
		})
		if err != nil {
			a.led.RevertTo(rev)
			return fmt.Errorf("account: claim swap: %w", err)
		}
	}

	a.mu.Lock()
	owner := a.owner
	a.mu.Unlock()
	swept := a.led.BalanceOf(assets.Base, a.cfg.Handle)
	if swept.Sign() > 0 {
		if err := a.led.Transfer(assets.Base, a.cfg.Handle, owner, swept); err != nil {
			a.led.RevertTo(rev)
			return fmt.Errorf("account: claim sweep: %w", err)
		}
	}

	a.log.Info("claim completed",
		"receipt_base", snapBase.String(), "receipt_secondary", snapSecondary.String(), "swept", swept.String())
	a.emit(ctx, domain.EventClaimCompleted, map[string]string{
		"receipt_base":      snapBase.String(),
		"receipt_secondary": snapSecondary.String(),
		"swept":             swept.String(),
		"recipient":         owner.Hex(),
	})
	return nil
}

// TransferOwnership hands the account to newOwner. The zero address is
// rejected so custody can never be burned.
func (a *Account) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	release, err := a.enter()
	if err != nil {
		return err
	}
	defer release()
	return a.transferOwnership(ctx, caller, newOwner)
}

func (a *Account) transferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if err := a.authorized(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("account: new owner must not be the zero address")
	}
	a.mu.Lock()
	prev := a.owner
	a.owner = newOwner
	a.mu.Unlock()

	a.log.Info("ownership transferred", "previous", prev.Hex(), "new", newOwner.Hex())
	a.emit(ctx, domain.EventOwnershipTransfer, map[string]string{
		"previous": prev.Hex(),
		"new":      newOwner.Hex(),
	})
	return nil
}

func (a *Account) emit(ctx context.Context, typ domain.EventType, attrs map[string]string) {
	a.sink.Emit(ctx, domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Account:    a.cfg.Handle,
		Attributes: attrs,
		CreatedAt:  time.Now().UTC(),
	})
}
