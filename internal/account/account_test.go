package account

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
	"github.com/openvault/vaultd/internal/protocol/sim"
)

var testAssets = domain.AssetSet{
	Base:             "USDC",
	Secondary:        "USDT",
	ReceiptBase:      "aUSDC",
	ReceiptSecondary: "aUSDT",
}

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	handleAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	feeAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	poolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	strangerA  = common.HexToAddress("0x0000000000000000000000000000000000000099")
)

// stubEngine pulls its approved amount like a real engine but stops there,
// so account-level behavior can be asserted in isolation.
type stubEngine struct {
	addr    common.Address
	led     *ledger.Ledger
	asset   domain.Asset
	fail    bool
	reenter func() error
	pulled  *big.Int
}

func (e *stubEngine) Address() common.Address { return e.addr }

func (e *stubEngine) Run(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.led.TransferFrom(e.asset, e.addr, caller, e.addr, amount); err != nil {
		return err
	}
	e.pulled = new(big.Int).Set(amount)
	if e.reenter != nil {
		return e.reenter()
	}
	if e.fail {
		return errors.New("engine boom")
	}
	return nil
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sinkRecorder) Emit(_ context.Context, ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) byType(typ domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	led    *ledger.Ledger
	pool   *sim.LendingPool
	router *sim.SwapRouter
	engine *stubEngine
	sink   *sinkRecorder
	acct   *Account
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	led := ledger.New()
	pool := sim.NewLendingPool(poolAddr, led, testAssets)
	router := sim.NewSwapRouter(routerAddr, led)
	engine := &stubEngine{addr: engineAddr, led: led, asset: testAssets.Base}
	sink := &sinkRecorder{}

	cfg := Config{
		Handle:        handleAddr,
		Owner:         ownerAddr,
		FeeRecipient:  feeAddr,
		FeeRateBps:    250,
		Assets:        testAssets,
		ChainID:       137,
		SlippageBps:   100,
		DefaultEngine: engine,
		Pool:          pool,
		Router:        router,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	acct, err := New(cfg, led, sink, nil)
	require.NoError(t, err)
	return &fixture{led: led, pool: pool, router: router, engine: engine, sink: sink, acct: acct}
}

func (f *fixture) fund(t *testing.T, asset domain.Asset, amount int64) {
	t.Helper()
	require.NoError(t, f.led.Mint(asset, handleAddr, big.NewInt(amount)))
}

func TestNewRejectsExcessiveFeeRate(t *testing.T) {
	_, err := New(Config{Handle: handleAddr, Owner: ownerAddr, FeeRateBps: 10_001}, ledger.New(), nil, nil)
	require.ErrorIs(t, err, domain.ErrFeeRateTooHigh)
}

func TestRunStrategySkimsFee(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 1000)

	require.NoError(t, f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(1000)))

	// 250 bps of 1000 = 25 to the fee recipient, 975 to the engine.
	assert.Equal(t, int64(25), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
	assert.Equal(t, int64(975), f.engine.pulled.Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, handleAddr).Int64())
	assert.Equal(t, int64(975), f.acct.InvestedTotal(ownerAddr).Int64())

	evs := f.sink.byType(domain.EventStrategyExecuted)
	require.Len(t, evs, 1)
	assert.Equal(t, "25", evs[0].Attributes["fee"])
	assert.Equal(t, "975", evs[0].Attributes["invested"])
}

func TestRunStrategyFeeRoundsDown(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 1001)

	require.NoError(t, f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(1001)))

	// floor(1001 * 250 / 10000) = 25; the fractional unit stays invested.
	assert.Equal(t, int64(25), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
	assert.Equal(t, int64(976), f.engine.pulled.Int64())
}

func TestRunStrategyZeroFeeWhenRecipientUnset(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.FeeRecipient = common.Address{} })
	f.fund(t, testAssets.Base, 1000)

	require.NoError(t, f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(1000)))
	assert.Equal(t, int64(1000), f.engine.pulled.Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
}

func TestRunStrategyRejectsZeroAmount(t *testing.T) {
	f := newFixture(t, nil)
	err := f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestRunStrategyRejectsMissingEngine(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DefaultEngine = nil })
	f.fund(t, testAssets.Base, 100)
	err := f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrNoTarget)
}

func TestRunStrategyRejectsStranger(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 100)
	err := f.acct.RunStrategy(context.Background(), strangerA, nil, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRunStrategyEngineFailureRollsBackFee(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 1000)
	f.engine.fail = true

	err := f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(1000))
	require.Error(t, err)

	// The fee skim and the engine pull both unwind.
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
	assert.Equal(t, int64(1000), f.led.BalanceOf(testAssets.Base, handleAddr).Int64())
	assert.Equal(t, int64(0), f.acct.InvestedTotal(ownerAddr).Int64())
	assert.Empty(t, f.sink.byType(domain.EventStrategyExecuted))
}

func TestReentrantEngineRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 1000)
	f.engine.reenter = func() error {
		return f.acct.Claim(context.Background(), ownerAddr)
	}

	err := f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(1000))
	require.ErrorIs(t, err, domain.ErrReentrancy)
	// The whole run rolled back.
	assert.Equal(t, int64(1000), f.led.BalanceOf(testAssets.Base, handleAddr).Int64())
}

func TestTransferAsset(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Secondary, 500)

	require.NoError(t, f.acct.TransferAsset(context.Background(), ownerAddr, testAssets.Secondary, big.NewInt(200)))
	assert.Equal(t, int64(200), f.led.BalanceOf(testAssets.Secondary, ownerAddr).Int64())
	assert.Equal(t, int64(300), f.led.BalanceOf(testAssets.Secondary, handleAddr).Int64())

	require.ErrorIs(t, f.acct.TransferAsset(context.Background(), strangerA, testAssets.Secondary, big.NewInt(1)), domain.ErrUnauthorized)
	require.ErrorIs(t, f.acct.TransferAsset(context.Background(), ownerAddr, testAssets.Secondary, nil), domain.ErrZeroAmount)
	require.Len(t, f.sink.byType(domain.EventTokensWithdrawn), 1)
}

func TestExecuteStrategyCommands(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 100)
	ctx := context.Background()

	require.NoError(t, f.acct.ExecuteStrategy(ctx, ownerAddr, engineAddr, domain.Command{
		Kind: domain.CommandApprove, Asset: testAssets.Base, Amount: big.NewInt(40),
	}))
	assert.Equal(t, int64(40), f.led.Allowance(testAssets.Base, handleAddr, engineAddr).Int64())

	err := f.acct.ExecuteStrategy(ctx, ownerAddr, strangerA, domain.Command{Kind: domain.CommandWithdraw, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, domain.ErrNoTarget)

	err = f.acct.ExecuteStrategy(ctx, ownerAddr, strangerA, domain.Command{Kind: domain.CommandRawCall, Method: "poke"})
	require.ErrorIs(t, err, domain.ErrNoTarget)
}

func TestRollbackIsScopedToOneAccount(t *testing.T) {
	f := newFixture(t, nil)
	f.fund(t, testAssets.Base, 1000)

	ownerB := common.HexToAddress("0x0000000000000000000000000000000000000ab2")
	handleB := common.HexToAddress("0x0000000000000000000000000000000000000ab3")
	acctB, err := New(Config{Handle: handleB, Owner: ownerB, Assets: testAssets}, f.led, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.led.Mint(testAssets.Secondary, handleB, big.NewInt(500)))

	// Account A's engine fails mid-flight while account B tries to move its
	// own funds on the shared ledger. B's committed transfer must survive
	// A's rollback.
	started := make(chan struct{})
	f.engine.reenter = func() error {
		close(started)
		time.Sleep(20 * time.Millisecond) // let B contend for the ledger
		return errors.New("engine boom")
	}

	done := make(chan error, 1)
	go func() {
		<-started
		done <- acctB.TransferAsset(context.Background(), ownerB, testAssets.Secondary, big.NewInt(500))
	}()

	require.Error(t, f.acct.RunStrategy(context.Background(), ownerAddr, nil, big.NewInt(1000)))
	require.NoError(t, <-done)

	assert.Equal(t, int64(500), f.led.BalanceOf(testAssets.Secondary, ownerB).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Secondary, handleB).Int64())
	// A unwound completely.
	assert.Equal(t, int64(1000), f.led.BalanceOf(testAssets.Base, handleAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
}

func TestExecuteStrategyRawCallTarget(t *testing.T) {
	led := ledger.New()
	papayaAddr := common.HexToAddress("0x0000000000000000000000000000000000000078")
	papaya := sim.NewPapaya(papayaAddr, led, testAssets.Base)
	require.NoError(t, papaya.Fund(handleAddr, big.NewInt(250)))

	acct, err := New(Config{
		Handle:  handleAddr,
		Owner:   ownerAddr,
		Assets:  testAssets,
		Targets: protocol.NewTargetSet(papaya),
	}, led, nil, nil)
	require.NoError(t, err)

	require.NoError(t, acct.ExecuteStrategy(context.Background(), ownerAddr, papayaAddr, domain.Command{
		Kind: domain.CommandRawCall, Method: "withdraw", Args: []string{"250"},
	}))
	assert.Equal(t, int64(250), led.BalanceOf(testAssets.Base, handleAddr).Int64())

	// Unknown methods surface as hard errors naming the target.
	err = acct.ExecuteStrategy(context.Background(), ownerAddr, papayaAddr, domain.Command{
		Kind: domain.CommandRawCall, Method: "poke",
	})
	require.Error(t, err)
}

func TestExecuteStrategyWithdrawFromPuller(t *testing.T) {
	led := ledger.New()
	papayaAddr := common.HexToAddress("0x0000000000000000000000000000000000000077")
	papaya := sim.NewPapaya(papayaAddr, led, testAssets.Base)
	require.NoError(t, papaya.Fund(handleAddr, big.NewInt(300)))

	sink := &sinkRecorder{}
	acct, err := New(Config{
		Handle: handleAddr, Owner: ownerAddr, Assets: testAssets, Puller: papaya,
	}, led, sink, nil)
	require.NoError(t, err)

	require.NoError(t, acct.ExecuteStrategy(context.Background(), ownerAddr, papayaAddr, domain.Command{
		Kind: domain.CommandWithdraw, Amount: big.NewInt(300),
	}))
	assert.Equal(t, int64(300), led.BalanceOf(testAssets.Base, handleAddr).Int64())
}

func TestClaimFullPipeline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Build a position: 400 base receipts and 600 secondary receipts.
	f.fund(t, testAssets.Base, 400)
	f.fund(t, testAssets.Secondary, 600)
	require.NoError(t, f.led.Approve(testAssets.Base, handleAddr, poolAddr, big.NewInt(400)))
	require.NoError(t, f.led.Approve(testAssets.Secondary, handleAddr, poolAddr, big.NewInt(600)))
	require.NoError(t, f.pool.Deposit(ctx, handleAddr, testAssets.Base, big.NewInt(400), handleAddr))
	require.NoError(t, f.pool.Deposit(ctx, handleAddr, testAssets.Secondary, big.NewInt(600), handleAddr))

	require.NoError(t, f.acct.Claim(ctx, ownerAddr))

	// 400 base redeemed + 600 secondary swapped 1:1 = 1000 to the owner.
	assert.Equal(t, int64(1000), f.led.BalanceOf(testAssets.Base, ownerAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.ReceiptBase, handleAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.ReceiptSecondary, handleAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Secondary, handleAddr).Int64())

	evs := f.sink.byType(domain.EventClaimCompleted)
	require.Len(t, evs, 1)
	assert.Equal(t, "400", evs[0].Attributes["receipt_base"])
	assert.Equal(t, "600", evs[0].Attributes["receipt_secondary"])
	assert.Equal(t, "1000", evs[0].Attributes["swept"])
}

func TestClaimWithNoPositionSweepsNothing(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.acct.Claim(context.Background(), ownerAddr))
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, ownerAddr).Int64())

	evs := f.sink.byType(domain.EventClaimCompleted)
	require.Len(t, evs, 1)
	assert.Equal(t, "0", evs[0].Attributes["swept"])
}

func TestClaimSkipsSwapWhenNoSecondary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// Router would reject any swap; the claim must not reach it.
	f.router.SetSpreadBps(9_999)

	f.fund(t, testAssets.Base, 250)
	require.NoError(t, f.led.Approve(testAssets.Base, handleAddr, poolAddr, big.NewInt(250)))
	require.NoError(t, f.pool.Deposit(ctx, handleAddr, testAssets.Base, big.NewInt(250), handleAddr))

	require.NoError(t, f.acct.Claim(ctx, ownerAddr))
	assert.Equal(t, int64(250), f.led.BalanceOf(testAssets.Base, ownerAddr).Int64())
}

func TestClaimRollsBackOnSwapFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// Spread worse than the configured 100 bps tolerance.
	f.router.SetSpreadBps(500)

	f.fund(t, testAssets.Secondary, 600)
	require.NoError(t, f.led.Approve(testAssets.Secondary, handleAddr, poolAddr, big.NewInt(600)))
	require.NoError(t, f.pool.Deposit(ctx, handleAddr, testAssets.Secondary, big.NewInt(600), handleAddr))

	err := f.acct.Claim(ctx, ownerAddr)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	// The receipt redemption unwound with the failed swap.
	assert.Equal(t, int64(600), f.led.BalanceOf(testAssets.ReceiptSecondary, handleAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, ownerAddr).Int64())
	assert.Empty(t, f.sink.byType(domain.EventClaimCompleted))
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	newOwner := common.HexToAddress("0x0000000000000000000000000000000000000aaa")

	require.Error(t, f.acct.TransferOwnership(ctx, ownerAddr, common.Address{}))
	require.NoError(t, f.acct.TransferOwnership(ctx, ownerAddr, newOwner))
	assert.Equal(t, newOwner, f.acct.Owner())

	// Old owner is locked out, new owner is in.
	f.fund(t, testAssets.Base, 100)
	require.ErrorIs(t, f.acct.RunStrategy(ctx, ownerAddr, nil, big.NewInt(100)), domain.ErrUnauthorized)
	require.NoError(t, f.acct.RunStrategy(ctx, newOwner, nil, big.NewInt(100)))

	evs := f.sink.byType(domain.EventOwnershipTransfer)
	require.Len(t, evs, 1)
	assert.Equal(t, ownerAddr.Hex(), evs[0].Attributes["previous"])
	assert.Equal(t, newOwner.Hex(), evs[0].Attributes["new"])
}
