package account

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openvault/vaultd/internal/crypto"
	"github.com/openvault/vaultd/internal/domain"
)

// ExecuteMetaTx verifies and dispatches an owner-signed instruction. The
// submitter needs no credential of its own; authorization lives entirely in
// the signature. Each nonce executes at most once, and a failed inner
// dispatch rolls back everything the meta-transaction touched, the nonce
// included, so the owner can re-sign against the same nonce.
func (a *Account) ExecuteMetaTx(ctx context.Context, tx domain.SignedMetaTx) error {
	release, err := a.enter()
	if err != nil {
		return err
	}
	defer release()

	if !tx.Deadline.IsZero() && time.Now().After(tx.Deadline) {
		return domain.ErrDeadlineExpired
	}

	a.mu.Lock()
	owner := a.owner
	nonce := a.nonce
	a.mu.Unlock()

	if tx.Nonce != nonce {
		return fmt.Errorf("account: metatx nonce %d, want %d: %w", tx.Nonce, nonce, domain.ErrStaleNonce)
	}

	canonical, err := tx.Payload.Canonical()
	if err != nil {
		return err
	}
	digest := crypto.MetaTxDigest(a.cfg.ChainID, a.cfg.Handle, crypto.PayloadHash(canonical), tx.Nonce, tx.Deadline.Unix())
	signer, err := crypto.RecoverSigner(digest, tx.Signature)
	if err != nil {
		return fmt.Errorf("account: metatx recover: %w", err)
	}
	if signer != owner {
		return fmt.Errorf("account: metatx signer %s: %w", signer.Hex(), domain.ErrBadSignature)
	}

	// The nonce is consumed before dispatch and the ledger snapshotted, so
	// that a failing inner call restores both.
	rev := a.led.Snapshot()
	a.mu.Lock()
	a.nonce = nonce + 1
	a.asSelf = true
	a.mu.Unlock()

	dispatchErr := a.dispatch(ctx, tx.Payload)

	a.mu.Lock()
	a.asSelf = false
	if dispatchErr != nil {
		a.nonce = nonce
	}
	a.mu.Unlock()

	if dispatchErr != nil {
		a.led.RevertTo(rev)
		return fmt.Errorf("account: metatx %s: %w", tx.Payload.Action, dispatchErr)
	}

	a.log.Info("metatx executed", "action", string(tx.Payload.Action), "nonce", tx.Nonce)
	a.emit(ctx, domain.EventMetaTxExecuted, map[string]string{
		"action":         string(tx.Payload.Action),
		"nonce":          fmt.Sprintf("%d", tx.Nonce),
		"signer":         signer.Hex(),
		"payload_digest": fmt.Sprintf("0x%x", digest),
	})
	return nil
}

// dispatch routes a verified payload to the matching protected operation.
// The inner impls are invoked directly (the guard is already held) with the
// account itself as the effective caller.
func (a *Account) dispatch(ctx context.Context, p domain.MetaTxPayload) error {
	self := a.cfg.Handle
	switch p.Action {
	case domain.ActionRunStrategy:
		eng := a.cfg.DefaultEngine
		if p.Engine != (common.Address{}) {
			if a.cfg.Engines == nil {
				return domain.ErrNoTarget
			}
			resolved, ok := a.cfg.Engines.Resolve(p.Engine)
			if !ok {
				return fmt.Errorf("account: engine %s: %w", p.Engine.Hex(), domain.ErrNoTarget)
			}
			eng = resolved
		}
		return a.runStrategy(ctx, self, eng, p.Amount)
	case domain.ActionClaim:
		return a.claim(ctx, self)
	case domain.ActionTransferAsset:
		return a.transferAsset(ctx, self, p.Asset, p.Amount)
	case domain.ActionTransferOwnership:
		return a.transferOwnership(ctx, self, p.NewOwner)
	default:
		return fmt.Errorf("account: unknown metatx action %q", p.Action)
	}
}
