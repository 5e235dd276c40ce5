// Package idempotency is the C2 Idempotency Keeper: a single-writer claim
// of a token with TTL, implemented as a compare-and-set-if-absent against
// Redis (SETNX), not a read-then-write pair.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// ErrUnavailable wraps any failure of the underlying key store; callers
// surface it as IDEMPOTENCY_UNAVAILABLE.
var ErrUnavailable = errors.New("IDEMPOTENCY_UNAVAILABLE")

// Keeper is the C2 port.
type Keeper interface {
	CheckAndMark(ctx context.Context, key string, ttl time.Duration) (domain.ClaimOutcome, error)
	Exists(ctx context.Context, key string) (bool, error)
}

const keyPrefix = "review:idempotency:"

// RedisKeeper implements Keeper over a single SETNX call per claim attempt.
type RedisKeeper struct {
	client redis.UniversalClient
}

// NewRedisKeeper wraps an existing redis client.
func NewRedisKeeper(client redis.UniversalClient) *RedisKeeper {
	return &RedisKeeper{client: client}
}

// CheckAndMark attempts a single compare-and-set-if-absent claim. It
// returns ClaimNew on a successful claim (the timestamp is stored as the
// value) and ClaimReplay when the key was already claimed.
func (k *RedisKeeper) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (domain.ClaimOutcome, error) {
	ok, err := k.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return domain.ClaimReplay, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	if ok {
		return domain.ClaimNew, nil
	}
	return domain.ClaimReplay, nil
}

// Exists is a read-only check, used for diagnostics; it never claims.
func (k *RedisKeeper) Exists(ctx context.Context, key string) (bool, error) {
	n, err := k.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrUnavailable, key, err)
	}
	return n > 0, nil
}
