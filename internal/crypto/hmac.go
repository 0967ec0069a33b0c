package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names for HMAC-authenticated requests against the vaultd API.
const (
	HeaderAPIKey    = "X-Vault-Api-Key"
	HeaderTimestamp = "X-Vault-Timestamp"
	HeaderSignature = "X-Vault-Signature"
)

// maxClockSkew bounds how stale a signed request timestamp may be.
const maxClockSkew = 30 * time.Second

// RequestAuth holds the shared credentials a relayer (or other API client)
// uses to sign requests to vaultd.
type RequestAuth struct {
	Key    string
	Secret string
}

// Headers returns the HTTP headers for an authenticated request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body), base64.
func (a *RequestAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (a *RequestAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    a.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(a.Secret), ts+method+path+body),
	}
}

// Verify checks a received signature against the expected one for the given
// request parts, rejecting timestamps outside the skew window. Comparison is
// constant time.
func (a *RequestAuth) Verify(method, path, body, tsHeader, sigHeader string, now time.Time) error {
	unixTS, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: bad timestamp header: %w", err)
	}
	skew := now.Sub(time.Unix(unixTS, 0))
	if skew < -maxClockSkew || skew > maxClockSkew {
		return fmt.Errorf("crypto: request timestamp outside ±%s window", maxClockSkew)
	}

	want := hmacSHA256Base64([]byte(a.Secret), tsHeader+method+path+body)
	if !hmac.Equal([]byte(want), []byte(sigHeader)) {
		return fmt.Errorf("crypto: request signature mismatch")
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (a *RequestAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RequestAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
