// Package cache holds the Redis-backed pieces shared by the tracking edge and
// the analytics worker: a read-through token cache and the dirty-campaign
// set.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
	"github.com/redis/go-redis/v9"
)

var log = logger.With("cache")

const (
	tokenKeyPrefix = "trk:token:"
	// missMarker is cached for unknown tokens so scanners hammering random
	// tokens do not reach the database.
	missMarker = "-"
)

// CampaignLiveness reports whether a campaign exists and is not deleted.
type CampaignLiveness interface {
	CampaignLive(ctx context.Context, campaignID string) (bool, error)
}

// CachedResolver wraps a TokenResolver with a Redis read-through cache.
// Redis failures fall through to the wrapped resolver.
type CachedResolver struct {
	next   engagement.TokenResolver
	client *redis.Client
	ttl    time.Duration
	negTTL time.Duration
	live   CampaignLiveness
}

// ResolverOption configures a CachedResolver.
type ResolverOption func(*CachedResolver)

// WithLivenessCheck re-checks the campaign on every cache hit so tokens of a
// campaign deleted after caching stop resolving immediately.
func WithLivenessCheck(l CampaignLiveness) ResolverOption {
	return func(c *CachedResolver) { c.live = l }
}

// NewCachedResolver caches hits for ttl and misses for negTTL. A zero negTTL
// disables negative caching.
func NewCachedResolver(next engagement.TokenResolver, client *redis.Client, ttl, negTTL time.Duration, opts ...ResolverOption) *CachedResolver {
	c := &CachedResolver{next: next, client: client, ttl: ttl, negTTL: negTTL}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve implements engagement.TokenResolver.
func (c *CachedResolver) Resolve(ctx context.Context, token string) (domain.TokenTarget, error) {
	key := tokenKeyPrefix + token

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && raw == missMarker:
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	case err == nil:
		var t domain.TokenTarget
		jerr := json.Unmarshal([]byte(raw), &t)
		if jerr != nil {
			log.Warn("corrupt token cache entry", "error", jerr)
			break
		}
		if c.live == nil {
			return t, nil
		}
		live, lerr := c.live.CampaignLive(ctx, t.CampaignID)
		if lerr != nil {
			// The wrapped resolver is authoritative; ask it instead.
			log.Warn("campaign liveness check failed", "campaign_id", t.CampaignID, "error", lerr)
			break
		}
		if live {
			return t, nil
		}
		c.storeMiss(ctx, key)
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	case err != redis.Nil:
		log.Warn("token cache read failed", "error", err)
	}

	t, err := c.next.Resolve(ctx, token)
	if errors.Is(err, engagement.ErrTokenNotFound) {
		c.storeMiss(ctx, key)
		return t, err
	}
	if err != nil {
		return t, err
	}

	if b, jerr := json.Marshal(t); jerr == nil {
		if serr := c.client.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			log.Warn("token cache write failed", "error", serr)
		}
	}
	return t, nil
}

// storeMiss replaces the entry with the miss marker, or drops it when
// negative caching is off.
func (c *CachedResolver) storeMiss(ctx context.Context, key string) {
	var err error
	if c.negTTL > 0 {
		err = c.client.Set(ctx, key, missMarker, c.negTTL).Err()
	} else {
		err = c.client.Del(ctx, key).Err()
	}
	if err != nil {
		log.Warn("token cache write failed", "error", err)
	}
}

// Invalidate drops a cached token, e.g. after its campaign was deleted.
func (c *CachedResolver) Invalidate(ctx context.Context, token string) error {
	return c.client.Del(ctx, tokenKeyPrefix+token).Err()
}
