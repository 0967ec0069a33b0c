package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/openvault/vaultd/internal/crypto"
	"github.com/openvault/vaultd/internal/domain"
	"github.com/openvault/vaultd/internal/engine"
	"github.com/openvault/vaultd/internal/ledger"
	"github.com/openvault/vaultd/internal/protocol"
	"github.com/openvault/vaultd/internal/protocol/sim"
	"github.com/openvault/vaultd/internal/registry"
	"github.com/openvault/vaultd/internal/relayer"
	"github.com/openvault/vaultd/internal/server"
	"github.com/openvault/vaultd/internal/server/handler"
	"github.com/openvault/vaultd/internal/server/ws"
	"github.com/openvault/vaultd/internal/service"
)

// Fixed ledger addresses for the simulated protocol collaborators. Accounts
// and the engine get their addresses from config and the registry.
var (
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000001001")
	routerAddr = common.HexToAddress("0x0000000000000000000000000000000000001002")
	pullerAddr = common.HexToAddress("0x0000000000000000000000000000000000001003")
)

// ServerMode runs the API, relayer, and event hub over in-memory backends.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.runStack(ctx, deps, nil)
}

// PaperMode is ServerMode with the configured genesis grant funding every
// freshly provisioned account, so strategies can run without real deposits.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	grant, err := a.cfg.GenesisGrant()
	if err != nil {
		return fmt.Errorf("paper mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.String("genesis_grant", grant.String()),
	)
	return a.runStack(ctx, deps, grant)
}

// FullMode runs everything: API, relayer, hub, postgres-backed persistence,
// and the event archival cron when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	grant, err := a.cfg.GenesisGrant()
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runStack(ctx, deps, grant)
}

// runStack builds the core service graph and starts every goroutine the mode
// needs: websocket hub, relayer loop, HTTP server, and archival cron.
// grant may be nil when new accounts should start empty.
func (a *App) runStack(ctx context.Context, deps *Dependencies, grant *big.Int) error {
	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildAccountService(deps, grant)
	if err != nil {
		return err
	}

	// Optional local signing identity, used by operator tooling that signs
	// meta-transactions against this deployment.
	if a.cfg.Wallet.PrivateKey != "" || a.cfg.Wallet.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("app: load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, a.cfg.Chain.ChainID)
		if err != nil {
			return fmt.Errorf("app: build signer: %w", err)
		}
		a.logger.InfoContext(ctx, "signing identity loaded",
			slog.String("address", signer.Address().Hex()),
		)
	}

	// WebSocket hub — bridges the signal bus to connected clients.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Relayer — drains queued meta-transactions into the service.
	rel := relayer.New(relayer.Config{
		QueueSize: a.cfg.Relayer.QueueSize,
		DedupTTL:  a.cfg.Relayer.DedupTTL.Duration,
		LockTTL:   a.cfg.Relayer.LockTTL.Duration,
	}, svc, deps.LockManager, deps.NonceCache, a.logger)
	g.Go(func() error {
		err := rel.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// HTTP server.
	if a.cfg.Server.Enabled {
		var events handler.EventLister
		if deps.EventStore != nil {
			events = deps.EventStore
		}
		handlers := server.Handlers{
			Health:   handler.NewHealthHandler(a.logger),
			Accounts: handler.NewAccountHandler(svc, events, a.logger),
			MetaTx:   handler.NewMetaTxHandler(rel, a.logger),
		}
		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			HMACKey:         a.cfg.Server.HMACKey,
			HMACSecret:      a.cfg.Server.HMACSecret,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	// Event archival cron.
	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.runArchiveCron(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// buildAccountService assembles the core: ledger, simulated protocol
// collaborators, strategy engine, registry, and the account service fronting
// them all.
func (a *App) buildAccountService(deps *Dependencies, grant *big.Int) (*service.AccountService, error) {
	led := ledger.New()
	assets := domain.AssetSet{
		Base:             domain.Asset(a.cfg.Assets.Base),
		Secondary:        domain.Asset(a.cfg.Assets.Secondary),
		ReceiptBase:      domain.Asset(a.cfg.Assets.ReceiptBase),
		ReceiptSecondary: domain.Asset(a.cfg.Assets.ReceiptSecondary),
	}

	pool := sim.NewLendingPool(poolAddr, led, assets)
	router := sim.NewSwapRouter(routerAddr, led)
	router.SetPrice(a.cfg.Paper.PriceNum, a.cfg.Paper.PriceDen)
	router.SetSpreadBps(uint64(a.cfg.Paper.SpreadBps))
	puller := sim.NewPapaya(pullerAddr, led, assets.Base)

	recorder := service.NewEventRecorder(
		deps.EventStore,
		deps.InvestmentStore,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)

	eng, err := engine.New(engine.Config{
		Address:      common.HexToAddress(a.cfg.Engine.Address),
		Assets:       assets,
		Pool:         pool,
		Router:       router,
		SlippageBps:  uint64(a.cfg.Engine.SlippageBps),
		SwapFeeTier:  uint32(a.cfg.Engine.SwapFeeTier),
		SwapDeadline: a.cfg.Engine.SwapDeadline.Duration,
	}, led, recorder, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}

	var feeRecipient common.Address
	if a.cfg.Fees.Recipient != "" {
		feeRecipient = common.HexToAddress(a.cfg.Fees.Recipient)
	}
	reg, err := registry.New(registry.Config{
		FeeRecipient: feeRecipient,
		FeeRateBps:   uint64(a.cfg.Fees.RateBps),
	}, deps.AccountStore, recorder, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build registry: %w", err)
	}

	svc := service.NewAccountService(service.Config{
		ChainID:      a.cfg.Chain.ChainID,
		SlippageBps:  uint64(a.cfg.Engine.SlippageBps),
		SwapFeeTier:  uint32(a.cfg.Engine.SwapFeeTier),
		SwapDeadline: a.cfg.Engine.SwapDeadline.Duration,
		Assets:       assets,
		Engine:       eng,
		Pool:         pool,
		Router:       router,
		Puller:       puller,
		EngineSet:    engine.NewSet(eng),
		Targets:      protocol.NewTargetSet(puller),
		GenesisGrant: grant,
	}, reg, led, deps.AccountStore, deps.NonceCache, recorder, a.logger)

	return svc, nil
}

// runArchiveCron periodically drains events older than the retention window
// into blob storage.
func (a *App) runArchiveCron(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "archive cron started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			moved, err := archiver.ArchiveEvents(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if moved > 0 {
				a.logger.InfoContext(ctx, "archive pass complete",
					slog.Int64("events_archived", moved),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}
