package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

func newTestKeeper(t *testing.T) *RedisKeeper {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisKeeper(client)
}

func TestCheckAndMarkFirstClaimWins(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	outcome, err := k.CheckAndMark(ctx, "owner/repo:42", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimNew, outcome)

	outcome, err = k.CheckAndMark(ctx, "owner/repo:42", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimReplay, outcome)
}

func TestCheckAndMarkDistinctKeysDoNotCollide(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	a, err := k.CheckAndMark(ctx, "owner/repo:1", time.Minute)
	require.NoError(t, err)
	b, err := k.CheckAndMark(ctx, "owner/repo:2", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, domain.ClaimNew, a)
	assert.Equal(t, domain.ClaimNew, b)
}

func TestExistsIsReadOnly(t *testing.T) {
	k := newTestKeeper(t)
	ctx := context.Background()

	exists, err := k.Exists(ctx, "owner/repo:99")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = k.CheckAndMark(ctx, "owner/repo:99", time.Minute)
	require.NoError(t, err)

	exists, err = k.Exists(ctx, "owner/repo:99")
	require.NoError(t, err)
	assert.True(t, exists)
}
