package cache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

type countingResolver struct {
	calls   int
	targets map[string]domain.TokenTarget
}

func (r *countingResolver) Resolve(_ context.Context, token string) (domain.TokenTarget, error) {
	r.calls++
	t, ok := r.targets[token]
	if !ok {
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	}
	return t, nil
}

func TestCachedResolver_CachesHits(t *testing.T) {
	_, client := setupTestRedis(t)
	next := &countingResolver{targets: map[string]domain.TokenTarget{
		"tok-1": {Token: "tok-1", CampaignID: "c1", RecipientID: "r1"},
	}}
	c := NewCachedResolver(next, client, time.Hour, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Resolve(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.CampaignID)
	}
	assert.Equal(t, 1, next.calls)

	require.NoError(t, c.Invalidate(ctx, "tok-1"))
	_, err := c.Resolve(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

type liveSet struct {
	calls int
	live  map[string]bool
	err   error
}

func (l *liveSet) CampaignLive(_ context.Context, campaignID string) (bool, error) {
	l.calls++
	return l.live[campaignID], l.err
}

func TestCachedResolver_DeletedCampaignStopsResolving(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &countingResolver{targets: map[string]domain.TokenTarget{
		"tok-1": {Token: "tok-1", CampaignID: "c1", RecipientID: "r1"},
	}}
	live := &liveSet{live: map[string]bool{"c1": true}}
	c := NewCachedResolver(next, client, time.Hour, time.Minute, WithLivenessCheck(live))
	ctx := context.Background()

	_, err := c.Resolve(ctx, "tok-1")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, live.calls)

	// Campaign deleted while the token is still cached.
	live.live["c1"] = false
	delete(next.targets, "tok-1")

	_, err = c.Resolve(ctx, "tok-1")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)
	cached, err := mr.Get(tokenKeyPrefix + "tok-1")
	require.NoError(t, err)
	assert.Equal(t, missMarker, cached)

	_, err = c.Resolve(ctx, "tok-1")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)
	assert.Equal(t, 1, next.calls)
}

func TestCachedResolver_LivenessErrorAsksWrappedResolver(t *testing.T) {
	_, client := setupTestRedis(t)
	next := &countingResolver{targets: map[string]domain.TokenTarget{
		"tok-1": {Token: "tok-1", CampaignID: "c1", RecipientID: "r1"},
	}}
	live := &liveSet{live: map[string]bool{"c1": true}}
	c := NewCachedResolver(next, client, time.Hour, time.Minute, WithLivenessCheck(live))
	ctx := context.Background()

	_, err := c.Resolve(ctx, "tok-1")
	require.NoError(t, err)

	live.err = errors.New("db down")
	got, err := c.Resolve(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RecipientID)
	assert.Equal(t, 2, next.calls)
}

func TestCachedResolver_NegativeCacheExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &countingResolver{targets: map[string]domain.TokenTarget{}}
	c := NewCachedResolver(next, client, time.Hour, 30*time.Second)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)
	_, err = c.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)
	assert.Equal(t, 1, next.calls)

	mr.FastForward(time.Minute)
	_, err = c.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, engagement.ErrTokenNotFound)
	assert.Equal(t, 2, next.calls)
}

func TestCachedResolver_RedisDownFallsThrough(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &countingResolver{targets: map[string]domain.TokenTarget{
		"tok-1": {Token: "tok-1", CampaignID: "c1", RecipientID: "r1"},
	}}
	c := NewCachedResolver(next, client, time.Hour, 0)
	mr.Close()

	got, err := c.Resolve(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RecipientID)
}

func TestDirtySet_MarkAndPop(t *testing.T) {
	_, client := setupTestRedis(t)
	d := NewDirtySet(client, "")
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c1", "c3"} {
		require.NoError(t, d.MarkDirty(ctx, id))
	}
	n, err := d.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	first, err := d.PopDirty(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	rest, err := d.PopDirty(ctx, 10)
	require.NoError(t, err)

	all := append(first, rest...)
	sort.Strings(all)
	assert.Equal(t, []string{"c1", "c2", "c3"}, all)

	empty, err := d.PopDirty(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
