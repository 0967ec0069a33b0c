package domain

import "math/big"

// Asset identifies a token tracked by the ledger. The fixed strategy works
// over four of them: the base and secondary stable assets plus the two
// yield-receipt assets minted by the lending pool.
type Asset string

// AssetSet binds the four asset identities an account and engine operate on.
// All bindings are immutable once an account is constructed.
type AssetSet struct {
	Base             Asset
	Secondary        Asset
	ReceiptBase      Asset
	ReceiptSecondary Asset
}

// Receipt returns the yield-receipt asset corresponding to an underlying,
// or "" when the underlying is not part of the set.
func (s AssetSet) Receipt(underlying Asset) Asset {
	switch underlying {
	case s.Base:
		return s.ReceiptBase
	case s.Secondary:
		return s.ReceiptSecondary
	default:
		return ""
	}
}

// Underlying is the inverse of Receipt.
func (s AssetSet) Underlying(receipt Asset) Asset {
	switch receipt {
	case s.ReceiptBase:
		return s.Base
	case s.ReceiptSecondary:
		return s.Secondary
	default:
		return ""
	}
}

// BasisPoints is the denominator for all bps rates (fees, slippage).
var BasisPoints = big.NewInt(10_000)

// MaxFeeRateBps is the highest admissible fee rate (100%).
const MaxFeeRateBps = 10_000
