// Package sim implements the protocol collaborators over the in-process
// ledger. Used by paper mode and the test suite; a live deployment swaps
// these for adapters over the real venues.
package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
)

// LendingPool is a ledger-backed lending pool: deposits pull the underlying
// into the pool's address and mint receipt tokens 1:1 to the beneficiary;
// withdrawals burn receipts and return the underlying plus any configured
// accrual. One instance serves every asset in the set.
type LendingPool struct {
	addr   common.Address
	led    *ledger.Ledger
	assets domain.AssetSet

	mu         sync.Mutex
	accrualBps uint64
}

// NewLendingPool creates a pool bound to the given ledger and asset set.
func NewLendingPool(addr common.Address, led *ledger.Ledger, assets domain.AssetSet) *LendingPool {
	return &LendingPool{addr: addr, led: led, assets: assets}
}

// Address returns the pool's ledger address.
func (p *LendingPool) Address() common.Address { return p.addr }

// SetAccrualBps configures simulated interest: a withdrawal pays out the
// receipt balance scaled by (10000+bps)/10000.
func (p *LendingPool) SetAccrualBps(bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrualBps = bps
}

// Deposit pulls amount of asset from `from` and mints the matching receipt
// asset to onBehalfOf. Receipts always accrue to the beneficiary, never to
// the depositor, which is what lets a shared engine deposit for many
// accounts.
func (p *LendingPool) Deposit(ctx context.Context, from common.Address, asset domain.Asset, amount *big.Int, onBehalfOf common.Address) error {
	receipt := p.assets.Receipt(asset)
	if receipt == "" {
		return fmt.Errorf("sim pool: unsupported asset %s", asset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("sim pool: deposit %s: %w", asset, domain.ErrZeroAmount)
	}
	if err := p.led.TransferFrom(asset, p.addr, from, p.addr, amount); err != nil {
		return fmt.Errorf("sim pool: deposit pull: %w", err)
	}
	if err := p.led.Mint(receipt, onBehalfOf, amount); err != nil {
		return fmt.Errorf("sim pool: mint receipt: %w", err)
	}
	return nil
}

// Withdraw burns `from`'s receipts for asset (all of them when amount is
// the WithdrawAll sentinel) and transfers the underlying plus accrual to
// recipient. The receipts must have been approved to the pool beforehand.
func (p *LendingPool) Withdraw(ctx context.Context, from common.Address, asset domain.Asset, amount *big.Int, recipient common.Address) (*big.Int, error) {
	receipt := p.assets.Receipt(asset)
	if receipt == "" {
		return nil, fmt.Errorf("sim pool: unsupported asset %s", asset)
	}

	held := p.led.BalanceOf(receipt, from)
	toBurn := amount
	if amount == nil || amount.Cmp(protocol.WithdrawAll) == 0 {
		toBurn = held
	}
	if toBurn.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if toBurn.Cmp(held) > 0 {
		return nil, fmt.Errorf("sim pool: withdraw %s: %w", asset, domain.ErrInsufficientBalance)
	}

	// Burn via allowance so the approve-then-withdraw sequence is enforced
	// the way the live pool enforces it.
	if err := p.led.TransferFrom(receipt, p.addr, from, p.addr, toBurn); err != nil {
		return nil, fmt.Errorf("sim pool: burn receipts: %w", err)
	}
	if err := p.led.Burn(receipt, p.addr, toBurn); err != nil {
		return nil, fmt.Errorf("sim pool: burn receipts: %w", err)
	}

	out := p.withAccrual(toBurn)
	// Interest is minted on demand; the sim pool has no reserve of its own.
	if interest := new(big.Int).Sub(out, toBurn); interest.Sign() > 0 {
		if err := p.led.Mint(asset, p.addr, interest); err != nil {
			return nil, fmt.Errorf("sim pool: mint interest: %w", err)
		}
	}
	if err := p.led.Transfer(asset, p.addr, recipient, out); err != nil {
		return nil, fmt.Errorf("sim pool: pay out: %w", err)
	}
	return out, nil
}

func (p *LendingPool) withAccrual(amount *big.Int) *big.Int {
	p.mu.Lock()
	bps := p.accrualBps
	p.mu.Unlock()
	if bps == 0 {
		return new(big.Int).Set(amount)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(10_000+bps))
	return scaled.Div(scaled, domain.BasisPoints)
}

var _ protocol.LendingPool = (*LendingPool)(nil)
