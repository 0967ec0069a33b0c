package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/openvault/vaultd/internal/domain"
)

// nonceTTL bounds how long a cached nonce survives without updates. A
// relayer that misses the cache just asks the account, so expiry is safe.
const nonceTTL = 24 * time.Hour

// NonceCache implements domain.NonceCache: the next expected meta-tx nonce
// per account, shared across relayer replicas so queued payloads can be
// ordered without a round trip to the account first.
type NonceCache struct {
	rdb *redis.Client
}

// NewNonceCache creates a NonceCache backed by the given Client.
func NewNonceCache(c *Client) *NonceCache {
	return &NonceCache{rdb: c.Underlying()}
}

func nonceKey(account common.Address) string {
	return "nonce:" + account.Hex()
}

// Set records the next expected nonce for account.
func (nc *NonceCache) Set(ctx context.Context, account common.Address, nonce uint64) error {
	if err := nc.rdb.Set(ctx, nonceKey(account), nonce, nonceTTL).Err(); err != nil {
		return fmt.Errorf("redis: set nonce %s: %w", account.Hex(), err)
	}
	return nil
}

// Get returns the cached nonce and whether one was present.
func (nc *NonceCache) Get(ctx context.Context, account common.Address) (uint64, bool, error) {
	val, err := nc.rdb.Get(ctx, nonceKey(account)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get nonce %s: %w", account.Hex(), err)
	}
	nonce, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse nonce %s: %w", account.Hex(), err)
	}
	return nonce, true, nil
}

var _ domain.NonceCache = (*NonceCache)(nil)
