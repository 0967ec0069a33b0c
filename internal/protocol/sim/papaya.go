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

// Papaya simulates the external balance-holding service: accounts hold a
// pre-deposited base-asset balance with the service and can pull it back.
type Papaya struct {
	addr  common.Address
	led   *ledger.Ledger
	asset domain.Asset

	mu       sync.Mutex
	deposits map[common.Address]*big.Int
}

// NewPapaya creates the service for one asset.
func NewPapaya(addr common.Address, led *ledger.Ledger, asset domain.Asset) *Papaya {
	return &Papaya{addr: addr, led: led, asset: asset, deposits: make(map[common.Address]*big.Int)}
}

// Address returns the service's ledger address.
func (s *Papaya) Address() common.Address { return s.addr }

// Fund credits holder with a pre-deposited balance. Test/paper-mode setup.
func (s *Papaya) Fund(holder common.Address, amount *big.Int) error {
	if err := s.led.Mint(s.asset, s.addr, amount); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.deposits[holder]
	if prev == nil {
		prev = big.NewInt(0)
	}
	s.deposits[holder] = new(big.Int).Add(prev, amount)
	return nil
}

// Withdraw pulls amount of the caller's deposited balance back to the
// caller's own address.
func (s *Papaya) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("sim papaya: withdraw: %w", domain.ErrZeroAmount)
	}
	s.mu.Lock()
	held := s.deposits[caller]
	if held == nil || held.Cmp(amount) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("sim papaya: withdraw for %s: %w", caller.Hex(), domain.ErrInsufficientBalance)
	}
	s.deposits[caller] = new(big.Int).Sub(held, amount)
	s.mu.Unlock()

	if err := s.led.Transfer(s.asset, s.addr, caller, amount); err != nil {
		return fmt.Errorf("sim papaya: pay out: %w", err)
	}
	return nil
}

// Call exposes the pull surface to the generic execution escape hatch. The
// only method is "withdraw", taking the decimal amount as its sole argument.
func (s *Papaya) Call(ctx context.Context, caller common.Address, method string, args []string) error {
	switch method {
	case "withdraw":
		if len(args) != 1 {
			return fmt.Errorf("sim papaya: call withdraw: want 1 argument, got %d", len(args))
		}
		amount, ok := new(big.Int).SetString(args[0], 10)
		if !ok {
			return fmt.Errorf("sim papaya: call withdraw: bad amount %q", args[0])
		}
		return s.Withdraw(ctx, caller, amount)
	default:
		return fmt.Errorf("sim papaya: unknown method %q", method)
	}
}

var (
	_ protocol.BalancePuller = (*Papaya)(nil)
	_ protocol.Callable      = (*Papaya)(nil)
)
