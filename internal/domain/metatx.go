package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MetaTxAction selects which protected account operation a signed
// meta-transaction invokes. The payload is a tagged command rather than an
// opaque call blob so that it can be validated before crossing the account
// boundary.
type MetaTxAction string

const (
	ActionRunStrategy       MetaTxAction = "run_strategy"
	ActionClaim             MetaTxAction = "claim"
	ActionTransferAsset     MetaTxAction = "transfer_asset"
	ActionTransferOwnership MetaTxAction = "transfer_ownership"
)

// MetaTxPayload is the owner-signed instruction. Only the fields relevant to
// Action are set; the rest stay zero and still participate in the canonical
// encoding so a given payload has exactly one digest.
type MetaTxPayload struct {
	Action   MetaTxAction   `json:"action"`
	Engine   common.Address `json:"engine"`
	Amount   *big.Int       `json:"amount"`
	Asset    Asset          `json:"asset"`
	NewOwner common.Address `json:"new_owner"`
}

// Canonical returns the deterministic byte encoding the payload digest is
// computed over. encoding/json writes struct fields in declaration order,
// which is what makes this canonical.
func (p MetaTxPayload) Canonical() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("metatx: encode payload: %w", err)
	}
	return b, nil
}

// SignedMetaTx is what a relayer submits: the payload, the nonce the owner
// signed it against, an absolute deadline, and the 65-byte secp256k1
// signature over the binding digest.
type SignedMetaTx struct {
	ID        string         `json:"id"`
	Account   common.Address `json:"account"`
	Payload   MetaTxPayload  `json:"payload"`
	Nonce     uint64         `json:"nonce"`
	Deadline  time.Time      `json:"deadline"`
	Signature string         `json:"signature"` // 0x-prefixed hex, r||s||v
}
