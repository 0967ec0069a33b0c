// Package service orchestrates the core packages behind the HTTP surface
// and the relayer: registry lookups, live account instances, persistence,
// and event fan-out.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/account"
	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
	"github.com/openvault/vaultd/internal/registry"
)

// Config carries the shared collaborators every provisioned account is
// wired with.
type Config struct {
	ChainID      int
	SlippageBps  uint64
	SwapFeeTier  uint32
	SwapDeadline time.Duration
	Assets       domain.AssetSet
	Engine       account.Engine
	Pool         protocol.LendingPool
	Router       protocol.SwapRouter
	Puller       protocol.BalancePuller
	EngineSet    account.EngineResolver
	Targets      account.TargetResolver
	GenesisGrant *big.Int // paper mode: base-asset balance minted to new accounts
}

// AccountService owns the mapping from handle to live account instance and
// fronts every account operation for the HTTP handlers and the relayer.
type AccountService struct {
	cfg      Config
	reg      *registry.Registry
	led      *ledger.Ledger
	accounts domain.AccountStore // optional, for rebuilds after restart
	nonces   domain.NonceCache   // optional
	sink     domain.EventSink
	log      *slog.Logger

	mu       sync.Mutex
	byHandle map[common.Address]*account.Account
}

// NewAccountService creates the service. accounts and nonces may be nil.
func NewAccountService(
	cfg Config,
	reg *registry.Registry,
	led *ledger.Ledger,
	accounts domain.AccountStore,
	nonces domain.NonceCache,
	sink domain.EventSink,
	logger *slog.Logger,
) *AccountService {
	if sink == nil {
		sink = domain.NopSink
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		cfg:      cfg,
		reg:      reg,
		led:      led,
		accounts: accounts,
		nonces:   nonces,
		sink:     sink,
		log:      logger.With("component", "account_service"),
		byHandle: make(map[common.Address]*account.Account),
	}
}

// CreateAccount provisions an account for requester and brings the live
// instance up. In paper mode the new account starts with the configured
// genesis grant of the base asset.
func (s *AccountService) CreateAccount(ctx context.Context, requester common.Address) (domain.AccountRecord, error) {
	rec, err := s.reg.CreateAccount(ctx, requester)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	if _, err := s.instantiate(rec); err != nil {
		return domain.AccountRecord{}, err
	}
	if s.cfg.GenesisGrant != nil && s.cfg.GenesisGrant.Sign() > 0 {
		end := s.led.Begin()
		err := s.led.Mint(s.cfg.Assets.Base, rec.Handle, s.cfg.GenesisGrant)
		end()
		if err != nil {
			return domain.AccountRecord{}, fmt.Errorf("account_service: genesis grant: %w", err)
		}
	}
	return rec, nil
}

// instantiate builds the live account from its record and registers it.
func (s *AccountService) instantiate(rec domain.AccountRecord) (*account.Account, error) {
	acct, err := account.New(account.Config{
		Handle:        rec.Handle,
		Owner:         rec.Owner,
		FeeRecipient:  rec.FeeRecipient,
		FeeRateBps:    rec.FeeRateBps,
		Assets:        s.cfg.Assets,
		ChainID:       s.cfg.ChainID,
		SlippageBps:   s.cfg.SlippageBps,
		SwapFeeTier:   s.cfg.SwapFeeTier,
		SwapDeadline:  s.cfg.SwapDeadline,
		DefaultEngine: s.cfg.Engine,
		Engines:       s.cfg.EngineSet,
		Targets:       s.cfg.Targets,
		Pool:          s.cfg.Pool,
		Router:        s.cfg.Router,
		Puller:        s.cfg.Puller,
	}, s.led, s.sink, s.log)
	if err != nil {
		return nil, fmt.Errorf("account_service: build account %s: %w", rec.Handle.Hex(), err)
	}
	s.mu.Lock()
	s.byHandle[rec.Handle] = acct
	s.mu.Unlock()
	return acct, nil
}

// Account resolves a live account by handle, rebuilding it from the
// persisted record when the process restarted since creation.
func (s *AccountService) Account(ctx context.Context, handle common.Address) (*account.Account, error) {
	s.mu.Lock()
	acct, ok := s.byHandle[handle]
	s.mu.Unlock()
	if ok {
		return acct, nil
	}
	if s.accounts == nil {
		return nil, fmt.Errorf("account_service: account %s: %w", handle.Hex(), domain.ErrNotFound)
	}
	rec, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("account_service: account %s: %w", handle.Hex(), domain.ErrNotFound)
		}
		return nil, err
	}
	return s.instantiate(rec)
}

// Lookup returns the registry record for a requester.
func (s *AccountService) Lookup(ctx context.Context, requester common.Address) (domain.AccountRecord, error) {
	return s.reg.Lookup(ctx, requester)
}

// RunStrategy invokes the default engine for the account with amount of the
// base asset, acting for the current owner.
func (s *AccountService) RunStrategy(ctx context.Context, handle common.Address, amount *big.Int) error {
	acct, err := s.Account(ctx, handle)
	if err != nil {
		return err
	}
	return acct.RunStrategy(ctx, acct.Owner(), nil, amount)
}

// Claim unwinds the account's position to its owner.
func (s *AccountService) Claim(ctx context.Context, handle common.Address) error {
	acct, err := s.Account(ctx, handle)
	if err != nil {
		return err
	}
	return acct.Claim(ctx, acct.Owner())
}

// Withdraw moves amount of asset from the account to its owner.
func (s *AccountService) Withdraw(ctx context.Context, handle common.Address, asset domain.Asset, amount *big.Int) error {
	acct, err := s.Account(ctx, handle)
	if err != nil {
		return err
	}
	return acct.TransferAsset(ctx, acct.Owner(), asset, amount)
}

// SubmitMetaTx executes a signed meta-transaction against its account and
// refreshes the relayer nonce cache on success.
func (s *AccountService) SubmitMetaTx(ctx context.Context, tx domain.SignedMetaTx) error {
	acct, err := s.Account(ctx, tx.Account)
	if err != nil {
		return err
	}
	if err := acct.ExecuteMetaTx(ctx, tx); err != nil {
		return err
	}
	if s.nonces != nil {
		if err := s.nonces.Set(ctx, tx.Account, acct.Nonce()); err != nil {
			s.log.WarnContext(ctx, "nonce cache update failed",
				slog.String("account", tx.Account.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// NextNonce returns the next expected meta-tx nonce for an account,
// preferring the cache and falling back to the live account.
func (s *AccountService) NextNonce(ctx context.Context, handle common.Address) (uint64, error) {
	if s.nonces != nil {
		if nonce, ok, err := s.nonces.Get(ctx, handle); err == nil && ok {
			return nonce, nil
		}
	}
	acct, err := s.Account(ctx, handle)
	if err != nil {
		return 0, err
	}
	return acct.Nonce(), nil
}

// Balances reports the account's current holdings across the asset set.
func (s *AccountService) Balances(ctx context.Context, handle common.Address) (map[domain.Asset]*big.Int, error) {
	if _, err := s.Account(ctx, handle); err != nil {
		return nil, err
	}
	assets := s.cfg.Assets
	out := make(map[domain.Asset]*big.Int, 4)
	for _, asset := range []domain.Asset{assets.Base, assets.Secondary, assets.ReceiptBase, assets.ReceiptSecondary} {
		out[asset] = s.led.BalanceOf(asset, handle)
	}
	return out, nil
}
