package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/openvault/vaultd/internal/crypto"
)

// maxSignedBodyBytes bounds how much request body the HMAC check buffers.
const maxSignedBodyBytes = 1 << 20

// HMAC returns middleware that verifies X-Vault-* request signatures against
// the shared credentials. It replaces the static-key Auth middleware when
// signed requests are configured; every request must carry a valid signature.
func HMAC(auth *crypto.RequestAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(crypto.HeaderAPIKey)
			if key != auth.Key {
				unauthorized(w)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
			if err != nil {
				unauthorized(w)
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := auth.Verify(
				r.Method,
				r.URL.Path,
				string(body),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				time.Now(),
			); err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"invalid request signature"}`))
}
