// Package registry provisions accounts: one per requesting identity, with a
// deterministic handle and the fee policy in force at creation time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/openvault/vaultd/internal/domain"
)

var handleSalt = []byte("vault/account/v1")

// Config is the policy applied to every account the registry provisions.
type Config struct {
	FeeRecipient common.Address
	FeeRateBps   uint64
}

// Registry hands out at most one account per requester. Records are held in
// memory and, when a store is configured, persisted through it; the store
// is also consulted on cache misses so a restarted process keeps rejecting
// duplicates.
type Registry struct {
	cfg   Config
	store domain.AccountStore
	sink  domain.EventSink
	log   *slog.Logger

	mu          sync.Mutex
	byRequester map[common.Address]domain.AccountRecord
}

// New constructs the registry. store and sink may be nil.
func New(cfg Config, store domain.AccountStore, sink domain.EventSink, logger *slog.Logger) (*Registry, error) {
	if cfg.FeeRateBps > domain.MaxFeeRateBps {
		return nil, fmt.Errorf("registry: fee rate %d: %w", cfg.FeeRateBps, domain.ErrFeeRateTooHigh)
	}
	if sink == nil {
		sink = domain.NopSink
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:         cfg,
		store:       store,
		sink:        sink,
		log:         logger.With("component", "registry"),
		byRequester: make(map[common.Address]domain.AccountRecord),
	}, nil
}

// DeriveHandle computes the account address a requester would be assigned.
// The derivation is pure, so a handle can be predicted before creation.
func DeriveHandle(requester common.Address) common.Address {
	digest := ethcrypto.Keccak256(handleSalt, requester.Bytes())
	return common.BytesToAddress(digest[12:])
}

// CreateAccount provisions the requester's account. A second call for the
// same requester fails with ErrAlreadyExists; the first account is never
// replaced.
func (r *Registry) CreateAccount(ctx context.Context, requester common.Address) (domain.AccountRecord, error) {
	if requester == (common.Address{}) {
		return domain.AccountRecord{}, fmt.Errorf("registry: requester must not be the zero address")
	}
	if _, err := r.Lookup(ctx, requester); err == nil {
		return domain.AccountRecord{}, fmt.Errorf("registry: account for %s: %w", requester.Hex(), domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.AccountRecord{}, err
	}

	rec := domain.AccountRecord{
		Handle:       DeriveHandle(requester),
		Requester:    requester,
		Owner:        requester,
		FeeRecipient: r.cfg.FeeRecipient,
		FeeRateBps:   r.cfg.FeeRateBps,
		CreatedAt:    time.Now().UTC(),
	}
	if r.store != nil {
		if err := r.store.Create(ctx, rec); err != nil {
			return domain.AccountRecord{}, fmt.Errorf("registry: persist account: %w", err)
		}
	}

	r.mu.Lock()
	r.byRequester[requester] = rec
	r.mu.Unlock()

	r.log.Info("account created", "requester", requester.Hex(), "handle", rec.Handle.Hex())
	r.sink.Emit(ctx, domain.Event{
		ID:      uuid.NewString(),
		Type:    domain.EventAccountCreated,
		Account: rec.Handle,
		Attributes: map[string]string{
			"requester":    requester.Hex(),
			"owner":        rec.Owner.Hex(),
			"fee_rate_bps": fmt.Sprintf("%d", rec.FeeRateBps),
		},
		CreatedAt: rec.CreatedAt,
	})
	return rec, nil
}

// Lookup returns the requester's record or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, requester common.Address) (domain.AccountRecord, error) {
	r.mu.Lock()
	rec, ok := r.byRequester[requester]
	r.mu.Unlock()
	if ok {
		return rec, nil
	}
	if r.store != nil {
		rec, err := r.store.GetByRequester(ctx, requester)
		if err == nil {
			r.mu.Lock()
			r.byRequester[requester] = rec
			r.mu.Unlock()
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.AccountRecord{}, err
		}
	}
	return domain.AccountRecord{}, fmt.Errorf("registry: account for %s: %w", requester.Hex(), domain.ErrNotFound)
}
