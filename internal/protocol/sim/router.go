package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
)

// SwapRouter is a ledger-backed swap venue for the stable pair: input
// tokens are burned, output tokens minted at a configurable price with a
// configurable spread. Deadline and minimum-output checks behave like the
// live venue so slippage handling can be exercised end to end.
type SwapRouter struct {
	addr common.Address
	led  *ledger.Ledger

	mu        sync.Mutex
	priceNum  *big.Int // tokenOut units per priceDen tokenIn units
	priceDen  *big.Int
	spreadBps uint64
	nowFn     func() time.Time
}

// NewSwapRouter creates a router at 1:1 price with zero spread.
func NewSwapRouter(addr common.Address, led *ledger.Ledger) *SwapRouter {
	return &SwapRouter{
		addr:     addr,
		led:      led,
		priceNum: big.NewInt(1),
		priceDen: big.NewInt(1),
		nowFn:    time.Now,
	}
}

// Address returns the router's ledger address.
func (r *SwapRouter) Address() common.Address { return r.addr }

// SetPrice sets the tokenOut/tokenIn exchange rate as a fraction.
func (r *SwapRouter) SetPrice(num, den int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priceNum = big.NewInt(num)
	r.priceDen = big.NewInt(den)
}

// SetSpreadBps configures execution cost: output is reduced by bps/10000.
func (r *SwapRouter) SetSpreadBps(bps uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spreadBps = bps
}

// SetNow overrides the clock, for deadline tests.
func (r *SwapRouter) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFn = fn
}

// SwapExactIn executes the swap, rejecting zero input, expired deadlines,
// and outputs under the minimum. Many venues reject zero-amount swaps, and
// so does this one; callers must skip the swap leg instead.
func (r *SwapRouter) SwapExactIn(ctx context.Context, p protocol.SwapParams) (*big.Int, error) {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("sim router: swap %s->%s: %w", p.TokenIn, p.TokenOut, domain.ErrZeroAmount)
	}
	r.mu.Lock()
	num, den, spread, now := r.priceNum, r.priceDen, r.spreadBps, r.nowFn
	r.mu.Unlock()

	if !p.Deadline.IsZero() && now().After(p.Deadline) {
		return nil, fmt.Errorf("sim router: swap %s->%s: %w", p.TokenIn, p.TokenOut, domain.ErrDeadlineExpired)
	}

	out := new(big.Int).Mul(p.AmountIn, num)
	out.Div(out, den)
	if spread > 0 {
		out.Mul(out, new(big.Int).SetUint64(10_000-spread))
		out.Div(out, domain.BasisPoints)
	}
	if p.MinAmountOut != nil && out.Cmp(p.MinAmountOut) < 0 {
		return nil, fmt.Errorf("sim router: swap %s->%s out %s < min %s: %w",
			p.TokenIn, p.TokenOut, out, p.MinAmountOut, domain.ErrSlippageExceeded)
	}

	if err := r.led.TransferFrom(p.TokenIn, r.addr, p.Caller, r.addr, p.AmountIn); err != nil {
		return nil, fmt.Errorf("sim router: pull input: %w", err)
	}
	if err := r.led.Burn(p.TokenIn, r.addr, p.AmountIn); err != nil {
		return nil, fmt.Errorf("sim router: burn input: %w", err)
	}
	if err := r.led.Mint(p.TokenOut, p.Recipient, out); err != nil {
		return nil, fmt.Errorf("sim router: mint output: %w", err)
	}
	return out, nil
}

var _ protocol.SwapRouter = (*SwapRouter)(nil)
