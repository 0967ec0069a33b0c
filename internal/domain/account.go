package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountRecord is the registry's view of a provisioned account: who asked
// for it, which handle it got, and the immutable fee policy it was built
// with. The live execution state (nonce, invested totals) belongs to the
// account object itself, not the registry.
type AccountRecord struct {
	Handle       common.Address
	Requester    common.Address
	Owner        common.Address
	FeeRecipient common.Address
	FeeRateBps   uint64
	CreatedAt    time.Time
}

// InvestmentEntry records one successful strategy run: the net-of-fee delta
// and the cumulative invested total for the requester afterwards.
// Cumulative is monotonically non-decreasing and never reset.
type InvestmentEntry struct {
	Account    common.Address
	Requester  common.Address
	Delta      *big.Int
	Cumulative *big.Int
	CreatedAt  time.Time
}
