// Package crypto provides the meta-transaction signing scheme, encrypted
// key storage, and HMAC request authentication for the vaultd API.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// Typed-digest constants (pre-computed keccak256 of the canonical strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// MetaTx(address account,bytes32 payloadHash,uint256 nonce,uint256 deadline)
	metaTxTypeHash = ethcrypto.Keccak256(
		[]byte("MetaTx(address account,bytes32 payloadHash,uint256 nonce,uint256 deadline)"),
	)
)

const (
	domainName    = "VaultMetaTx"
	domainVersion = "1"
)

// DomainSeparator returns the digest domain bound to the given chain id.
func DomainSeparator(chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// PayloadHash hashes a canonical payload encoding for inclusion in the
// meta-transaction digest.
func PayloadHash(canonical []byte) []byte {
	return ethcrypto.Keccak256(canonical)
}

// MetaTxDigest computes the 32-byte digest an owner signs to pre-authorize
// one account action: keccak256(0x19 0x01 || domainSep || structHash) where
// the struct binds (account, payloadHash, nonce, deadline).
func MetaTxDigest(chainID int, account common.Address, payloadHash []byte, nonce uint64, deadline int64) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			metaTxTypeHash,
			common.LeftPadBytes(account.Bytes(), 32),
			common.LeftPadBytes(payloadHash, 32),
			bigIntTo32Bytes(new(big.Int).SetUint64(nonce)),
			bigIntTo32Bytes(big.NewInt(deadline)),
		),
	)
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			DomainSeparator(chainID),
			structHash,
		),
	)
}

// Signer signs meta-transaction digests with a secp256k1 key. The owner of
// an account holds one; relayers never do.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMetaTx signs the digest binding (account, payload, nonce, deadline)
// and returns a hex-encoded 65-byte signature (r || s || v, v in {27,28}).
func (s *Signer) SignMetaTx(account common.Address, canonicalPayload []byte, nonce uint64, deadline int64) (string, error) {
	digest := MetaTxDigest(s.chainID, account, PayloadHash(canonicalPayload), nonce, deadline)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner recovers the address that produced sigHex over digest.
// Accepts v in {0,1} or {27,28}.
func RecoverSigner(digest []byte, sigHex string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(raw))
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
