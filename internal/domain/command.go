package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CommandKind tags the variants of the generic execution escape hatch.
type CommandKind string

const (
	// CommandApprove grants a spender an allowance over one of the
	// account's assets. Used to pre-approve engines and pools.
	CommandApprove CommandKind = "approve"

	// CommandWithdraw pulls a pre-deposited balance back from the
	// balance-holding service into the account.
	CommandWithdraw CommandKind = "withdraw"

	// CommandRawCall forwards an uninterpreted method call to the target.
	CommandRawCall CommandKind = "raw_call"
)

// Command is the typed replacement for raw payload forwarding: the caller
// resolves the variant before it crosses the account boundary.
type Command struct {
	Kind    CommandKind
	Asset   Asset
	Spender common.Address
	Amount  *big.Int
	Method  string
	Args    []string
}
