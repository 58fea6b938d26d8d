package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultDirtyKey is the Redis set holding campaign ids awaiting recompute.
const DefaultDirtyKey = "analytics:dirty"

// DirtySet is a Redis set of campaign ids shared across processes. The
// tracking edge adds to it; exactly one worker pops each id.
type DirtySet struct {
	client *redis.Client
	key    string
}

// NewDirtySet creates a dirty set stored under key.
func NewDirtySet(client *redis.Client, key string) *DirtySet {
	if key == "" {
		key = DefaultDirtyKey
	}
	return &DirtySet{client: client, key: key}
}

// MarkDirty implements engagement.DirtyMarker.
func (d *DirtySet) MarkDirty(ctx context.Context, campaignID string) error {
	if err := d.client.SAdd(ctx, d.key, campaignID).Err(); err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}
	return nil
}

// PopDirty removes and returns up to n ids. SPOP is atomic, so concurrent
// workers never receive the same id from one mark.
func (d *DirtySet) PopDirty(ctx context.Context, n int) ([]string, error) {
	ids, err := d.client.SPopN(ctx, d.key, int64(n)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop dirty: %w", err)
	}
	return ids, nil
}

// Len returns the number of campaigns waiting.
func (d *DirtySet) Len(ctx context.Context) (int64, error) {
	return d.client.SCard(ctx, d.key).Result()
}
