// Package protocol declares the interface boundary to the external
// collaborators the core consumes: a lending pool, a swap venue, and the
// balance-holding pull service. The core never looks inside these; the sim
// subpackage provides ledger-backed reference implementations for paper
// mode and tests.
package protocol

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/domain"
)

// WithdrawAll is the sentinel amount requesting withdrawal of the caller's
// entire position (max uint256, matching the convention of the venues this
// models). Interest accrued between a balance snapshot and the withdrawal
// makes a fixed amount unreliable; the sentinel sidesteps that.
var WithdrawAll = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// LendingPool is the deposit/withdraw surface of the lending protocol.
// Deposits pull the underlying from `from` (requires allowance) and credit
// yield-receipt tokens to onBehalfOf. Withdrawals burn `from`'s receipts
// (again allowance-gated) and pay the underlying to recipient, returning
// the amount actually withdrawn.
type LendingPool interface {
	Address() common.Address
	Deposit(ctx context.Context, from common.Address, asset domain.Asset, amount *big.Int, onBehalfOf common.Address) error
	Withdraw(ctx context.Context, from common.Address, asset domain.Asset, amount *big.Int, recipient common.Address) (*big.Int, error)
}

// SwapParams carries one exact-in swap request.
type SwapParams struct {
	Caller       common.Address
	TokenIn      domain.Asset
	TokenOut     domain.Asset
	FeeTier      uint32
	Recipient    common.Address
	Deadline     time.Time
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// SwapRouter is the swap venue. Implementations must reject execution past
// the deadline and outputs below MinAmountOut.
type SwapRouter interface {
	Address() common.Address
	SwapExactIn(ctx context.Context, p SwapParams) (*big.Int, error)
}

// BalancePuller is the external balance-holding service ("Papaya"): a
// pre-deposited balance the caller can pull back into its own custody.
type BalancePuller interface {
	Address() common.Address
	Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error
}

// Callable is an arbitrary strategy target reachable through the generic
// execution escape hatch. Implementations report failure through the error;
// callers must not assume success from a nil-free path elsewhere.
type Callable interface {
	Address() common.Address
	Call(ctx context.Context, caller common.Address, method string, args []string) error
}

// TargetSet is a fixed address-to-target directory for the generic execution
// escape hatch. Only addresses registered here are callable.
type TargetSet struct {
	byAddr map[common.Address]Callable
}

// NewTargetSet builds the directory from the given targets. Nil entries are
// skipped.
func NewTargetSet(targets ...Callable) *TargetSet {
	s := &TargetSet{byAddr: make(map[common.Address]Callable, len(targets))}
	for _, t := range targets {
		if t != nil {
			s.byAddr[t.Address()] = t
		}
	}
	return s
}

// Target resolves addr to a registered callable.
func (s *TargetSet) Target(addr common.Address) (Callable, bool) {
	t, ok := s.byAddr[addr]
	return t, ok
}
