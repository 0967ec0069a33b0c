package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Relayer replicas take a
// per-account lock so submissions against one account serialize.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NonceCache tracks the next expected replay nonce per account so a relayer
// can order queued payloads without hitting the account first.
type NonceCache interface {
	Set(ctx context.Context, account common.Address, nonce uint64) error
	Get(ctx context.Context, account common.Address) (uint64, bool, error)
}

// SignalBus provides pub/sub fan-out of event envelopes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
