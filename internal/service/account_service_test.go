package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/crypto"
	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/engine"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol/sim"
	"github.com/openvault/vaultd/internal/registry"
)

var svcAssets = domain.AssetSet{
	Base:             "USDC",
	Secondary:        "USDT",
	ReceiptBase:      "aUSDC",
	ReceiptSecondary: "aUSDT",
}

type memInvestments struct {
	mu      sync.Mutex
	entries []domain.InvestmentEntry
}

func (m *memInvestments) Record(_ context.Context, entry domain.InvestmentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memInvestments) Total(context.Context, common.Address, common.Address) (*domain.InvestmentEntry, error) {
	return nil, domain.ErrNotFound
}

func (m *memInvestments) ListByAccount(context.Context, common.Address, domain.ListOpts) ([]domain.InvestmentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.InvestmentEntry(nil), m.entries...), nil
}

func newService(t *testing.T) (*AccountService, *memInvestments, *ledger.Ledger) {
	t.Helper()
	led := ledger.New()
	pool := sim.NewLendingPool(common.HexToAddress("0xe0"), led, svcAssets)
	router := sim.NewSwapRouter(common.HexToAddress("0xf0"), led)
	exec, err := engine.New(engine.Config{
		Address:     common.HexToAddress("0xd0"),
		Assets:      svcAssets,
		Pool:        pool,
		Router:      router,
		SlippageBps: 100,
	}, led, domain.NopSink, nil)
	require.NoError(t, err)

	investments := &memInvestments{}
	recorder := NewEventRecorder(nil, investments, nil, nil, nil)

	reg, err := registry.New(registry.Config{
		FeeRecipient: common.HexToAddress("0xc0"),
		FeeRateBps:   100,
	}, nil, recorder, nil)
	require.NoError(t, err)

	svc := NewAccountService(Config{
		ChainID:      137,
		SlippageBps:  100,
		Assets:       svcAssets,
		Engine:       exec,
		Pool:         pool,
		Router:       router,
		EngineSet:    engine.NewSet(exec),
		GenesisGrant: big.NewInt(10_000),
	}, reg, led, nil, nil, recorder, nil)
	return svc, investments, led
}

func TestCreateAccountGrantsGenesisBalance(t *testing.T) {
	svc, _, led := newService(t)
	requester := common.HexToAddress("0xa0")

	rec, err := svc.CreateAccount(context.Background(), requester)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), led.BalanceOf(svcAssets.Base, rec.Handle).Int64())

	_, err = svc.CreateAccount(context.Background(), requester)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRunStrategyRecordsInvestment(t *testing.T) {
	svc, investments, _ := newService(t)
	ctx := context.Background()
	requester := common.HexToAddress("0xa0")

	rec, err := svc.CreateAccount(ctx, requester)
	require.NoError(t, err)
	require.NoError(t, svc.RunStrategy(ctx, rec.Handle, big.NewInt(1000)))

	// 100 bps fee on 1000 leaves 990 invested.
	require.Len(t, investments.entries, 1)
	assert.Equal(t, int64(990), investments.entries[0].Delta.Int64())
	assert.Equal(t, int64(990), investments.entries[0].Cumulative.Int64())
	assert.Equal(t, requester, investments.entries[0].Requester)

	balances, err := svc.Balances(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, int64(495), balances[svcAssets.ReceiptBase].Int64())
	assert.Equal(t, int64(495), balances[svcAssets.ReceiptSecondary].Int64())
}

func TestSubmitMetaTx(t *testing.T) {
	svc, _, led := newService(t)
	ctx := context.Background()

	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 137)
	require.NoError(t, err)

	rec, err := svc.CreateAccount(ctx, signer.Address())
	require.NoError(t, err)

	payload := domain.MetaTxPayload{Action: domain.ActionRunStrategy, Amount: big.NewInt(500)}
	canonical, err := payload.Canonical()
	require.NoError(t, err)
	deadline := time.Now().Add(time.Hour)
	sig, err := signer.SignMetaTx(rec.Handle, canonical, 0, deadline.Unix())
	require.NoError(t, err)

	require.NoError(t, svc.SubmitMetaTx(ctx, domain.SignedMetaTx{
		Account:   rec.Handle,
		Payload:   payload,
		Nonce:     0,
		Deadline:  deadline,
		Signature: sig,
	}))

	nonce, err := svc.NextNonce(ctx, rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
	// 1% fee on 500 = 5; 495 split 247/248.
	assert.Equal(t, int64(247), led.BalanceOf(svcAssets.ReceiptBase, rec.Handle).Int64())
	assert.Equal(t, int64(248), led.BalanceOf(svcAssets.ReceiptSecondary, rec.Handle).Int64())
}

func TestWithdrawAndClaim(t *testing.T) {
	svc, _, led := newService(t)
	ctx := context.Background()
	requester := common.HexToAddress("0xa0")

	rec, err := svc.CreateAccount(ctx, requester)
	require.NoError(t, err)
	require.NoError(t, svc.RunStrategy(ctx, rec.Handle, big.NewInt(2000)))

	// 10000 genesis - 2000 funded leaves 8000 idle at the account.
	require.NoError(t, svc.Withdraw(ctx, rec.Handle, svcAssets.Base, big.NewInt(1000)))
	assert.Equal(t, int64(1000), led.BalanceOf(svcAssets.Base, requester).Int64())

	// Claim redeems the 1980 invested and sweeps the remaining idle 7000.
	require.NoError(t, svc.Claim(ctx, rec.Handle))
	assert.Equal(t, int64(9980), led.BalanceOf(svcAssets.Base, requester).Int64())
	assert.Equal(t, int64(0), led.BalanceOf(svcAssets.Base, rec.Handle).Int64())
}

func TestAccountUnknownHandle(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Account(context.Background(), common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}
