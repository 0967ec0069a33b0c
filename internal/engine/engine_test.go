package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/account"
	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol/sim"
)

var testAssets = domain.AssetSet{
	Base:             "USDC",
	Secondary:        "USDT",
	ReceiptBase:      "aUSDC",
	ReceiptSecondary: "aUSDT",
}

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	poolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	callerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type harness struct {
	led    *ledger.Ledger
	pool   *sim.LendingPool
	router *sim.SwapRouter
	exec   *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	led := ledger.New()
	pool := sim.NewLendingPool(poolAddr, led, testAssets)
	router := sim.NewSwapRouter(routerAddr, led)
	exec, err := New(Config{
		Address:     engineAddr,
		Assets:      testAssets,
		Pool:        pool,
		Router:      router,
		SlippageBps: 100,
	}, led, domain.NopSink, nil)
	require.NoError(t, err)
	return &harness{led: led, pool: pool, router: router, exec: exec}
}

func (h *harness) fundAndApprove(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, h.led.Mint(testAssets.Base, callerAddr, big.NewInt(amount)))
	require.NoError(t, h.led.Approve(testAssets.Base, callerAddr, engineAddr, big.NewInt(amount)))
}

func TestRunSplitsEvenAmount(t *testing.T) {
	h := newHarness(t)
	h.fundAndApprove(t, 1000)

	require.NoError(t, h.exec.Run(context.Background(), callerAddr, big.NewInt(1000)))

	assert.Equal(t, int64(500), h.led.BalanceOf(testAssets.ReceiptBase, callerAddr).Int64())
	assert.Equal(t, int64(500), h.led.BalanceOf(testAssets.ReceiptSecondary, callerAddr).Int64())
	// The engine ends the run holding nothing.
	assert.Equal(t, int64(0), h.led.BalanceOf(testAssets.Base, engineAddr).Int64())
	assert.Equal(t, int64(0), h.led.BalanceOf(testAssets.Secondary, engineAddr).Int64())
}

func TestRunOddUnitGoesToSwappedLeg(t *testing.T) {
	h := newHarness(t)
	h.fundAndApprove(t, 1001)

	require.NoError(t, h.exec.Run(context.Background(), callerAddr, big.NewInt(1001)))

	assert.Equal(t, int64(500), h.led.BalanceOf(testAssets.ReceiptBase, callerAddr).Int64())
	assert.Equal(t, int64(501), h.led.BalanceOf(testAssets.ReceiptSecondary, callerAddr).Int64())
}

func TestRunSingleUnit(t *testing.T) {
	h := newHarness(t)
	h.fundAndApprove(t, 1)

	require.NoError(t, h.exec.Run(context.Background(), callerAddr, big.NewInt(1)))

	// Nothing to deposit on the base leg; the whole unit swaps.
	assert.Equal(t, int64(0), h.led.BalanceOf(testAssets.ReceiptBase, callerAddr).Int64())
	assert.Equal(t, int64(1), h.led.BalanceOf(testAssets.ReceiptSecondary, callerAddr).Int64())
}

func TestRunRejectsZeroAmount(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.exec.Run(context.Background(), callerAddr, big.NewInt(0)), domain.ErrZeroAmount)
	require.ErrorIs(t, h.exec.Run(context.Background(), callerAddr, nil), domain.ErrZeroAmount)
}

func TestRunRequiresAllowance(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.led.Mint(testAssets.Base, callerAddr, big.NewInt(100)))

	err := h.exec.Run(context.Background(), callerAddr, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestRunFailsOnExcessSlippage(t *testing.T) {
	h := newHarness(t)
	h.fundAndApprove(t, 1000)
	h.router.SetSpreadBps(500) // beyond the 100 bps tolerance

	err := h.exec.Run(context.Background(), callerAddr, big.NewInt(1000))
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestRecoverReturnsStrandedBalance(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.led.Mint(testAssets.Secondary, engineAddr, big.NewInt(77)))

	got, err := h.exec.Recover(context.Background(), callerAddr, testAssets.Secondary)
	require.NoError(t, err)
	assert.Equal(t, int64(77), got.Int64())
	assert.Equal(t, int64(77), h.led.BalanceOf(testAssets.Secondary, callerAddr).Int64())

	// Nothing stranded: a no-op, not an error.
	got, err = h.exec.Recover(context.Background(), callerAddr, testAssets.Secondary)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Int64())
}

// End-to-end through the account: fund, run the strategy, claim back out.
func TestAccountStrategyLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	owner := common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	handle := common.HexToAddress("0x0000000000000000000000000000000000000bb1")
	feeRecipient := common.HexToAddress("0x0000000000000000000000000000000000000cc1")

	acct, err := account.New(account.Config{
		Handle:        handle,
		Owner:         owner,
		FeeRecipient:  feeRecipient,
		FeeRateBps:    100,
		Assets:        testAssets,
		SlippageBps:   100,
		DefaultEngine: h.exec,
		Pool:          h.pool,
		Router:        h.router,
	}, h.led, domain.NopSink, nil)
	require.NoError(t, err)

	require.NoError(t, h.led.Mint(testAssets.Base, handle, big.NewInt(1000)))
	require.NoError(t, acct.RunStrategy(ctx, owner, nil, big.NewInt(1000)))

	// 1% fee on 1000 leaves 990, split 495/495.
	assert.Equal(t, int64(10), h.led.BalanceOf(testAssets.Base, feeRecipient).Int64())
	assert.Equal(t, int64(495), h.led.BalanceOf(testAssets.ReceiptBase, handle).Int64())
	assert.Equal(t, int64(495), h.led.BalanceOf(testAssets.ReceiptSecondary, handle).Int64())
	assert.Equal(t, int64(990), acct.InvestedTotal(owner).Int64())

	require.NoError(t, acct.Claim(ctx, owner))
	assert.Equal(t, int64(990), h.led.BalanceOf(testAssets.Base, owner).Int64())
	assert.Equal(t, int64(0), h.led.BalanceOf(testAssets.ReceiptBase, handle).Int64())
	assert.Equal(t, int64(0), h.led.BalanceOf(testAssets.ReceiptSecondary, handle).Int64())
}
