// Package ledger holds the token state the accounts and the strategy engine
// move value through: per-asset balances plus ERC-20 style allowances for
// the pull-model transfers. Writes are journaled so a compound operation can
// snapshot the state, perform several transfers, and revert all of them when
// a later step fails.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/domain"
)

type entryKind int

const (
	entryBalance entryKind = iota
	entryAllowance
)

// journalEntry remembers the previous value of one storage slot so RevertTo
// can restore it. Entries are replayed in reverse.
type journalEntry struct {
	kind    entryKind
	asset   domain.Asset
	addr    common.Address
	spender common.Address
	prev    *big.Int
}

// Ledger is the in-memory token state. Individual operations are safe for
// concurrent use; compound sequences that rely on Snapshot/RevertTo must run
// inside a transition (Begin), which serializes them across all accounts,
// matching the one-transition-at-a-time model of the underlying platform.
type Ledger struct {
	transition sync.Mutex // held for the duration of one compound operation

	mu         sync.Mutex
	balances   map[domain.Asset]map[common.Address]*big.Int
	allowances map[domain.Asset]map[common.Address]map[common.Address]*big.Int
	journal    []journalEntry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[domain.Asset]map[common.Address]*big.Int),
		allowances: make(map[domain.Asset]map[common.Address]map[common.Address]*big.Int),
	}
}

// Begin opens an exclusive transition scope, blocking until no other
// transition is in flight. The returned end function closes the scope and
// drops the journal, so a later rollback can never reach past writes that
// another transition already committed. Snapshot and RevertTo are only
// meaningful between Begin and end.
func (l *Ledger) Begin() func() {
	l.transition.Lock()
	return func() {
		l.DiscardSnapshots()
		l.transition.Unlock()
	}
}

// Snapshot returns a revision id for the current state.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertTo rolls the state back to a revision previously returned by
// Snapshot. Reverting to a stale id (older than a revision already reverted
// past) is a no-op.
func (l *Ledger) RevertTo(rev int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev < 0 || rev >= len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= rev; i-- {
		e := l.journal[i]
		switch e.kind {
		case entryBalance:
			l.setBalance(e.asset, e.addr, e.prev)
		case entryAllowance:
			l.setAllowance(e.asset, e.addr, e.spender, e.prev)
		}
	}
	l.journal = l.journal[:rev]
}

// DiscardSnapshots drops the journal once a compound operation has
// committed, so reverted history cannot leak across transitions. Begin's
// end function calls this; it also bounds journal growth to one transition.
func (l *Ledger) DiscardSnapshots() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = l.journal[:0]
}

// BalanceOf returns a copy of addr's balance of asset.
func (l *Ledger) BalanceOf(asset domain.Asset, addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(asset, addr))
}

// Allowance returns a copy of the allowance owner has granted spender.
func (l *Ledger) Allowance(asset domain.Asset, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(asset, owner, spender))
}

// Mint credits addr with amount of asset. Used for genesis funding in paper
// mode and by the simulated protocols when issuing receipt tokens.
func (l *Ledger) Mint(asset domain.Asset, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: mint %s: %w", asset, domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, addr, amount)
	return nil
}

// Burn removes amount of asset from addr.
func (l *Ledger) Burn(asset domain.Asset, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: burn %s: %w", asset, domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance(asset, addr).Cmp(amount) < 0 {
		return fmt.Errorf("ledger: burn %s from %s: %w", asset, addr.Hex(), domain.ErrInsufficientBalance)
	}
	l.debit(asset, addr, amount)
	return nil
}

// Transfer moves amount of asset from one address to another. A zero amount
// is accepted and leaves the state untouched.
func (l *Ledger) Transfer(asset domain.Asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: transfer %s: %w", asset, domain.ErrZeroAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance(asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer %s from %s: %w", asset, from.Hex(), domain.ErrInsufficientBalance)
	}
	l.debit(asset, from, amount)
	l.credit(asset, to, amount)
	return nil
}

// TransferFrom moves amount of asset from `from` to `to` on the authority of
// spender, consuming spender's allowance. This is the pull model the engine
// uses to take custody of invested capital.
func (l *Ledger) TransferFrom(asset domain.Asset, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: transferFrom %s: %w", asset, domain.ErrZeroAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowance(asset, from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transferFrom %s by %s: %w", asset, spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if l.balance(asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transferFrom %s from %s: %w", asset, from.Hex(), domain.ErrInsufficientBalance)
	}
	l.recordAllowance(asset, from, spender)
	l.setAllowance(asset, from, spender, new(big.Int).Sub(allowed, amount))
	l.debit(asset, from, amount)
	l.credit(asset, to, amount)
	return nil
}

// Approve sets spender's allowance over owner's balance of asset.
func (l *Ledger) Approve(asset domain.Asset, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: approve %s: %w", asset, domain.ErrZeroAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordAllowance(asset, owner, spender)
	l.setAllowance(asset, owner, spender, new(big.Int).Set(amount))
	return nil
}

// --- internal, caller holds l.mu ---

func (l *Ledger) balance(asset domain.Asset, addr common.Address) *big.Int {
	if m := l.balances[asset]; m != nil {
		if b := m[addr]; b != nil {
			return b
		}
	}
	return big.NewInt(0)
}

func (l *Ledger) setBalance(asset domain.Asset, addr common.Address, v *big.Int) {
	m := l.balances[asset]
	if m == nil {
		m = make(map[common.Address]*big.Int)
		l.balances[asset] = m
	}
	m[addr] = new(big.Int).Set(v)
}

func (l *Ledger) credit(asset domain.Asset, addr common.Address, amount *big.Int) {
	prev := l.balance(asset, addr)
	l.journal = append(l.journal, journalEntry{kind: entryBalance, asset: asset, addr: addr, prev: new(big.Int).Set(prev)})
	l.setBalance(asset, addr, new(big.Int).Add(prev, amount))
}

func (l *Ledger) debit(asset domain.Asset, addr common.Address, amount *big.Int) {
	prev := l.balance(asset, addr)
	l.journal = append(l.journal, journalEntry{kind: entryBalance, asset: asset, addr: addr, prev: new(big.Int).Set(prev)})
	l.setBalance(asset, addr, new(big.Int).Sub(prev, amount))
}

func (l *Ledger) allowance(asset domain.Asset, owner, spender common.Address) *big.Int {
	if m := l.allowances[asset]; m != nil {
		if om := m[owner]; om != nil {
			if a := om[spender]; a != nil {
				return a
			}
		}
	}
	return big.NewInt(0)
}

func (l *Ledger) setAllowance(asset domain.Asset, owner, spender common.Address, v *big.Int) {
	m := l.allowances[asset]
	if m == nil {
		m = make(map[common.Address]map[common.Address]*big.Int)
		l.allowances[asset] = m
	}
	om := m[owner]
	if om == nil {
		om = make(map[common.Address]*big.Int)
		m[owner] = om
	}
	om[spender] = new(big.Int).Set(v)
}

func (l *Ledger) recordAllowance(asset domain.Asset, owner, spender common.Address) {
	prev := l.allowance(asset, owner, spender)
	l.journal = append(l.journal, journalEntry{
		kind:    entryAllowance,
		asset:   asset,
		addr:    owner,
		spender: spender,
		prev:    new(big.Int).Set(prev),
	})
}
