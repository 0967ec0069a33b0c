package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/account"
)

// Set is an address-keyed collection of engines, used to resolve the engine
// named in a meta-transaction payload.
type Set struct {
	mu sync.RWMutex
	m  map[common.Address]account.Engine
}

// NewSet builds a Set holding the given engines.
func NewSet(engines ...account.Engine) *Set {
	s := &Set{m: make(map[common.Address]account.Engine, len(engines))}
	for _, e := range engines {
		s.m[e.Address()] = e
	}
	return s
}

// Add registers an engine, replacing any previous one at the same address.
func (s *Set) Add(e account.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[e.Address()] = e
}

// Resolve returns the engine at addr.
func (s *Set) Resolve(addr common.Address) (account.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[addr]
	return e, ok
}

var _ account.EngineResolver = (*Set)(nil)
