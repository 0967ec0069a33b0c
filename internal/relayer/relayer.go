// Package relayer accepts signed meta-transactions from the HTTP surface
// and submits them to their accounts. Anyone may hand a meta-tx to a
// relayer; all authorization lives in the owner's signature, so the relayer
// only orders, dedups, and serializes.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openvault/vaultd/internal/domain"
)

const (
	defaultQueueSize  = 256
	defaultDedupTTL   = 2 * time.Minute
	defaultLockTTL    = 30 * time.Second
	cleanupInterval   = 30 * time.Second
	lockRetryInterval = 100 * time.Millisecond
	lockRetryAttempts = 20
)

// Submitter executes a verified meta-transaction against its account.
// Implemented by the service layer.
type Submitter interface {
	SubmitMetaTx(ctx context.Context, tx domain.SignedMetaTx) error
}

// Config tunes the relayer. Zero values pick the defaults above.
type Config struct {
	QueueSize int
	DedupTTL  time.Duration
	LockTTL   time.Duration
}

// Relayer is the submission loop: enqueue on one side, ordered per-account
// execution on the other. With a distributed lock manager configured,
// concurrent replicas serialize on each account.
type Relayer struct {
	cfg       Config
	submitter Submitter
	locks     domain.LockManager // optional
	nonces    domain.NonceCache  // optional
	dedup     *Dedup
	queue     chan domain.SignedMetaTx
	log       *slog.Logger
}

// New creates a Relayer submitting through submitter. locks and nonces may
// be nil for single-replica deployments.
func New(cfg Config, submitter Submitter, locks domain.LockManager, nonces domain.NonceCache, logger *slog.Logger) *Relayer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relayer{
		cfg:       cfg,
		submitter: submitter,
		locks:     locks,
		nonces:    nonces,
		dedup:     NewDedup(cfg.DedupTTL),
		queue:     make(chan domain.SignedMetaTx, cfg.QueueSize),
		log:       logger.With("component", "relayer"),
	}
}

// Enqueue accepts a meta-tx for asynchronous submission, assigning a
// submission id when the caller did not. It fails fast when the queue is
// full rather than blocking the HTTP handler.
func (r *Relayer) Enqueue(ctx context.Context, tx domain.SignedMetaTx) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	select {
	case r.queue <- tx:
		return tx.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("relayer: queue full: %w", domain.ErrRateLimited)
	}
}

// Run processes submissions until the context is cancelled, then drains the
// queue and returns.
func (r *Relayer) Run(ctx context.Context) error {
	r.log.Info("relayer started")
	defer r.log.Info("relayer stopped")

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()

		case tx, ok := <-r.queue:
			if !ok {
				return nil
			}
			r.process(ctx, tx)

		case <-cleanupTicker.C:
			r.dedup.Cleanup()
		}
	}
}

// process runs one submission through dedup, expiry, ordering, and
// execution.
func (r *Relayer) process(ctx context.Context, tx domain.SignedMetaTx) {
	log := r.log.With(
		slog.String("submission_id", tx.ID),
		slog.String("account", tx.Account.Hex()),
		slog.String("action", string(tx.Payload.Action)),
		slog.Uint64("nonce", tx.Nonce),
	)

	if r.dedup.IsDuplicate(tx.ID) {
		log.Debug("submission deduplicated, skipping")
		return
	}

	if !tx.Deadline.IsZero() && time.Now().UTC().After(tx.Deadline) {
		log.Warn("submission expired, skipping", slog.Time("deadline", tx.Deadline))
		return
	}

	// A nonce the account already consumed can never execute; drop it
	// before taking the lock.
	if r.nonces != nil {
		if next, ok, err := r.nonces.Get(ctx, tx.Account); err == nil && ok && tx.Nonce < next {
			log.Warn("submission nonce already consumed, skipping", slog.Uint64("next", next))
			return
		}
	}

	unlock, err := r.acquireAccountLock(ctx, tx)
	if err != nil {
		log.Warn("account lock not acquired, dropping submission", slog.String("error", err.Error()))
		return
	}
	if unlock != nil {
		defer unlock()
	}

	if err := r.submitter.SubmitMetaTx(ctx, tx); err != nil {
		switch {
		case errors.Is(err, domain.ErrStaleNonce):
			log.Warn("submission nonce stale", slog.String("error", err.Error()))
		case errors.Is(err, domain.ErrBadSignature), errors.Is(err, domain.ErrDeadlineExpired):
			log.Warn("submission rejected", slog.String("error", err.Error()))
		default:
			log.Error("submission failed", slog.String("error", err.Error()))
		}
		return
	}
	log.Info("submission executed")
}

// acquireAccountLock serializes submissions per account across replicas.
// Contention is expected when several relayers carry payloads for the same
// account, so the acquire retries briefly before giving up.
func (r *Relayer) acquireAccountLock(ctx context.Context, tx domain.SignedMetaTx) (func(), error) {
	if r.locks == nil {
		return nil, nil
	}
	key := "relayer:account:" + tx.Account.Hex()
	for attempt := 0; ; attempt++ {
		unlock, err := r.locks.Acquire(ctx, key, r.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || attempt >= lockRetryAttempts {
			return nil, err
		}
		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// drain processes whatever is still queued with a short grace period so an
// orderly shutdown does not strand accepted submissions.
func (r *Relayer) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case tx := <-r.queue:
			r.process(drainCtx, tx)
		default:
			return
		}
	}
}
