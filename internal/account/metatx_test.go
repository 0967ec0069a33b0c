package account

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/vaultd/internal/crypto"
	"github.com/openvault/vaultd/internal/domain"
)

// Hardhat account #0; test-only key.
const metaTxTestKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newMetaTxFixture(t *testing.T) (*fixture, *crypto.Signer) {
	t.Helper()
	signer, err := crypto.NewSigner(metaTxTestKey, 137)
	require.NoError(t, err)
	f := newFixture(t, func(c *Config) { c.Owner = signer.Address() })
	return f, signer
}

func signMetaTx(t *testing.T, signer *crypto.Signer, payload domain.MetaTxPayload, nonce uint64, deadline time.Time) domain.SignedMetaTx {
	t.Helper()
	canonical, err := payload.Canonical()
	require.NoError(t, err)
	sig, err := signer.SignMetaTx(handleAddr, canonical, nonce, deadline.Unix())
	require.NoError(t, err)
	return domain.SignedMetaTx{
		Account:   handleAddr,
		Payload:   payload,
		Nonce:     nonce,
		Deadline:  deadline,
		Signature: sig,
	}
}

func TestExecuteMetaTxRunStrategy(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	f.fund(t, testAssets.Base, 1000)
	deadline := time.Now().Add(time.Hour)

	tx := signMetaTx(t, signer, domain.MetaTxPayload{
		Action: domain.ActionRunStrategy,
		Amount: big.NewInt(1000),
	}, 0, deadline)

	require.NoError(t, f.acct.ExecuteMetaTx(context.Background(), tx))
	assert.Equal(t, uint64(1), f.acct.Nonce())
	assert.Equal(t, int64(25), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
	assert.Equal(t, int64(975), f.engine.pulled.Int64())

	// The record carries the signer, the consumed nonce, and the digest the
	// signature was verified against.
	evs := f.sink.byType(domain.EventMetaTxExecuted)
	require.Len(t, evs, 1)
	assert.Equal(t, signer.Address().Hex(), evs[0].Attributes["signer"])
	assert.Equal(t, "0", evs[0].Attributes["nonce"])
	canonical, err := tx.Payload.Canonical()
	require.NoError(t, err)
	digest := crypto.MetaTxDigest(137, handleAddr, crypto.PayloadHash(canonical), 0, deadline.Unix())
	assert.Equal(t, fmt.Sprintf("0x%x", digest), evs[0].Attributes["payload_digest"])
}

func TestExecuteMetaTxRejectsReplay(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	f.fund(t, testAssets.Base, 2000)
	deadline := time.Now().Add(time.Hour)

	tx := signMetaTx(t, signer, domain.MetaTxPayload{
		Action: domain.ActionRunStrategy,
		Amount: big.NewInt(1000),
	}, 0, deadline)

	require.NoError(t, f.acct.ExecuteMetaTx(context.Background(), tx))
	err := f.acct.ExecuteMetaTx(context.Background(), tx)
	require.ErrorIs(t, err, domain.ErrStaleNonce)
	// Only one execution moved funds.
	assert.Equal(t, int64(25), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())
}

func TestExecuteMetaTxRejectsExpiredDeadline(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	tx := signMetaTx(t, signer, domain.MetaTxPayload{Action: domain.ActionClaim}, 0, time.Now().Add(-time.Minute))
	require.ErrorIs(t, f.acct.ExecuteMetaTx(context.Background(), tx), domain.ErrDeadlineExpired)
	assert.Equal(t, uint64(0), f.acct.Nonce())
}

func TestExecuteMetaTxRejectsForeignSigner(t *testing.T) {
	f, _ := newMetaTxFixture(t)
	// A valid signature from a key that is not the owner's.
	intruder, err := crypto.NewSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 137)
	require.NoError(t, err)

	tx := signMetaTx(t, intruder, domain.MetaTxPayload{Action: domain.ActionClaim}, 0, time.Now().Add(time.Hour))
	require.ErrorIs(t, f.acct.ExecuteMetaTx(context.Background(), tx), domain.ErrBadSignature)
}

func TestExecuteMetaTxRejectsTamperedPayload(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	f.fund(t, testAssets.Base, 1000)

	tx := signMetaTx(t, signer, domain.MetaTxPayload{
		Action: domain.ActionRunStrategy,
		Amount: big.NewInt(10),
	}, 0, time.Now().Add(time.Hour))
	tx.Payload.Amount = big.NewInt(1000) // relayer inflates the amount

	require.ErrorIs(t, f.acct.ExecuteMetaTx(context.Background(), tx), domain.ErrBadSignature)
}

func TestExecuteMetaTxInnerFailureRestoresNonceAndFunds(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	f.fund(t, testAssets.Base, 1000)
	f.engine.fail = true

	tx := signMetaTx(t, signer, domain.MetaTxPayload{
		Action: domain.ActionRunStrategy,
		Amount: big.NewInt(1000),
	}, 0, time.Now().Add(time.Hour))

	require.Error(t, f.acct.ExecuteMetaTx(context.Background(), tx))
	assert.Equal(t, uint64(0), f.acct.Nonce())
	assert.Equal(t, int64(1000), f.led.BalanceOf(testAssets.Base, handleAddr).Int64())
	assert.Equal(t, int64(0), f.led.BalanceOf(testAssets.Base, feeAddr).Int64())

	// The same nonce works once the engine behaves.
	f.engine.fail = false
	require.NoError(t, f.acct.ExecuteMetaTx(context.Background(), tx))
	assert.Equal(t, uint64(1), f.acct.Nonce())
}

func TestExecuteMetaTxTransferOwnership(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	newOwner := common.HexToAddress("0x0000000000000000000000000000000000000bbb")

	tx := signMetaTx(t, signer, domain.MetaTxPayload{
		Action:   domain.ActionTransferOwnership,
		NewOwner: newOwner,
	}, 0, time.Now().Add(time.Hour))

	require.NoError(t, f.acct.ExecuteMetaTx(context.Background(), tx))
	assert.Equal(t, newOwner, f.acct.Owner())

	// The previous owner's signature no longer authorizes anything.
	next := signMetaTx(t, signer, domain.MetaTxPayload{Action: domain.ActionClaim}, 1, time.Now().Add(time.Hour))
	require.ErrorIs(t, f.acct.ExecuteMetaTx(context.Background(), next), domain.ErrBadSignature)
}

func TestExecuteMetaTxTransferAsset(t *testing.T) {
	f, signer := newMetaTxFixture(t)
	f.fund(t, testAssets.Secondary, 700)

	tx := signMetaTx(t, signer, domain.MetaTxPayload{
		Action: domain.ActionTransferAsset,
		Asset:  testAssets.Secondary,
		Amount: big.NewInt(700),
	}, 0, time.Now().Add(time.Hour))

	require.NoError(t, f.acct.ExecuteMetaTx(context.Background(), tx))
	assert.Equal(t, int64(700), f.led.BalanceOf(testAssets.Secondary, f.acct.Owner()).Int64())
}
