package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAuthRoundtrip(t *testing.T) {
	auth := &RequestAuth{Key: "relayer-1", Secret: "topsecret"}
	now := time.Unix(1_700_000_000, 0)

	headers := auth.HeadersAt("POST", "/api/metatx", `{"nonce":0}`, now.Unix())
	require.Equal(t, "relayer-1", headers[HeaderAPIKey])

	err := auth.Verify("POST", "/api/metatx", `{"nonce":0}`,
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	assert.NoError(t, err)
}

func TestRequestAuthRejectsTamperedBody(t *testing.T) {
	auth := &RequestAuth{Key: "relayer-1", Secret: "topsecret"}
	now := time.Unix(1_700_000_000, 0)

	headers := auth.HeadersAt("POST", "/api/metatx", `{"nonce":0}`, now.Unix())

	err := auth.Verify("POST", "/api/metatx", `{"nonce":1}`,
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	assert.Error(t, err)
}

func TestRequestAuthRejectsStaleTimestamp(t *testing.T) {
	auth := &RequestAuth{Key: "relayer-1", Secret: "topsecret"}
	signedAt := time.Unix(1_700_000_000, 0)

	headers := auth.HeadersAt("GET", "/api/health", "", signedAt.Unix())

	err := auth.Verify("GET", "/api/health", "",
		headers[HeaderTimestamp], headers[HeaderSignature], signedAt.Add(time.Minute))
	assert.Error(t, err)
}

func TestRequestAuthRejectsWrongSecret(t *testing.T) {
	signer := &RequestAuth{Key: "relayer-1", Secret: "topsecret"}
	verifier := &RequestAuth{Key: "relayer-1", Secret: "othersecret"}
	now := time.Unix(1_700_000_000, 0)

	headers := signer.HeadersAt("GET", "/api/accounts", "", now.Unix())

	err := verifier.Verify("GET", "/api/accounts", "",
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	assert.Error(t, err)
}

func TestRequestAuthStringRedacts(t *testing.T) {
	auth := &RequestAuth{Key: "relayer-key", Secret: "supersecret"}
	s := auth.String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "rela")
}
