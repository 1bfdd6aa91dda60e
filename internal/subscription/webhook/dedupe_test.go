package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jia-app/subscriptionservice/internal/cache"
)

func newDeduplicator(t *testing.T) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewDeduplicator(cache.NewCacheWithClient(client), time.Hour), mr
}

func TestDeduplicator_MarkThenSeen(t *testing.T) {
	ctx := context.Background()
	d, mr := newDeduplicator(t)

	assert.False(t, d.AlreadyProcessed(ctx, "WH-1"))
	d.MarkProcessed(ctx, "WH-1")
	assert.True(t, d.AlreadyProcessed(ctx, "WH-1"))
	assert.False(t, d.AlreadyProcessed(ctx, "WH-2"))

	require.True(t, mr.Exists(dedupeKeyPrefix+"WH-1"))
	assert.Equal(t, time.Hour, mr.TTL(dedupeKeyPrefix+"WH-1"))

	mr.FastForward(2 * time.Hour)
	assert.False(t, d.AlreadyProcessed(ctx, "WH-1"))
}

func TestDeduplicator_EmptyIDNeverDeduped(t *testing.T) {
	ctx := context.Background()
	d, mr := newDeduplicator(t)

	d.MarkProcessed(ctx, "")
	assert.False(t, d.AlreadyProcessed(ctx, ""))
	assert.Empty(t, mr.Keys())
}

func TestDeduplicator_StoreFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	d, mr := newDeduplicator(t)
	mr.Close()

	assert.NotPanics(t, func() { d.MarkProcessed(ctx, "WH-1") })
	assert.False(t, d.AlreadyProcessed(ctx, "WH-1"))
}

func TestDeduplicator_Nil(t *testing.T) {
	var d *Deduplicator
	assert.False(t, d.AlreadyProcessed(context.Background(), "WH-1"))
	assert.NotPanics(t, func() { d.MarkProcessed(context.Background(), "WH-1") })
}
