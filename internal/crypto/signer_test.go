package crypto

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key (hardhat account #0). Never used outside tests.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testChainID = 137

func TestMetaTxDigestDeterministic(t *testing.T) {
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	payload := []byte(`{"action":"claim"}`)

	d1 := MetaTxDigest(testChainID, account, PayloadHash(payload), 7, 1_900_000_000)
	d2 := MetaTxDigest(testChainID, account, PayloadHash(payload), 7, 1_900_000_000)
	require.Len(t, d1, 32)
	assert.Equal(t, d1, d2)

	// Any bound field changing must change the digest.
	assert.NotEqual(t, d1, MetaTxDigest(testChainID, account, PayloadHash(payload), 8, 1_900_000_000))
	assert.NotEqual(t, d1, MetaTxDigest(testChainID, account, PayloadHash(payload), 7, 1_900_000_001))
	assert.NotEqual(t, d1, MetaTxDigest(testChainID+1, account, PayloadHash(payload), 7, 1_900_000_000))
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	assert.NotEqual(t, d1, MetaTxDigest(testChainID, other, PayloadHash(payload), 7, 1_900_000_000))
}

func TestSignAndRecover(t *testing.T) {
	signer, err := NewSigner(testKeyHex, testChainID)
	require.NoError(t, err)

	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payload := []byte(`{"action":"run_strategy","amount":1000}`)
	deadline := time.Now().Add(time.Hour).Unix()

	sig, err := signer.SignMetaTx(account, payload, 0, deadline)
	require.NoError(t, err)

	digest := MetaTxDigest(testChainID, account, PayloadHash(payload), 0, deadline)
	recovered, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestRecoverRejectsTamperedPayload(t *testing.T) {
	signer, err := NewSigner(testKeyHex, testChainID)
	require.NoError(t, err)

	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	deadline := time.Now().Add(time.Hour).Unix()
	sig, err := signer.SignMetaTx(account, []byte(`{"amount":10}`), 0, deadline)
	require.NoError(t, err)

	tampered := MetaTxDigest(testChainID, account, PayloadHash([]byte(`{"amount":9999}`)), 0, deadline)
	recovered, err := RecoverSigner(tampered, sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), recovered)
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	_, err := RecoverSigner(make([]byte, 32), "0xdead")
	require.Error(t, err)
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestRequestAuthVerify(t *testing.T) {
	auth := &RequestAuth{Key: "k", Secret: "s3cret"}
	now := time.Unix(1_900_000_000, 0)

	h := auth.HeadersAt("POST", "/api/metatx", `{"id":"x"}`, now.Unix())
	require.NoError(t, auth.Verify("POST", "/api/metatx", `{"id":"x"}`, h[HeaderTimestamp], h[HeaderSignature], now))

	// Tampered body.
	require.Error(t, auth.Verify("POST", "/api/metatx", `{"id":"y"}`, h[HeaderTimestamp], h[HeaderSignature], now))
	// Stale timestamp.
	require.Error(t, auth.Verify("POST", "/api/metatx", `{"id":"x"}`, h[HeaderTimestamp], h[HeaderSignature], now.Add(2*time.Minute)))
}
