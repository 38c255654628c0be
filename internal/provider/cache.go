package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kietn20/playlist-collaborator/internal/room"
)

const cacheTTL = 24 * time.Hour

// CachedResolver is a redis read-through cache in front of another resolver.
// Video metadata is effectively immutable, so a long TTL is fine. Cache
// failures are ignored: a broken redis only costs extra upstream lookups.
type CachedResolver struct {
	inner room.Resolver
	rdb   *redis.Client
}

func NewCachedResolver(inner room.Resolver, rdb *redis.Client) *CachedResolver {
	return &CachedResolver{inner: inner, rdb: rdb}
}

type cachedDetails struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

func cacheKey(sourceRef string) string {
	return "meta:" + sourceRef
}

func (c *CachedResolver) Resolve(ctx context.Context, sourceRef string) (string, string, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, cacheKey(sourceRef)).Result()
		if err == nil {
			var d cachedDetails
			if json.Unmarshal([]byte(raw), &d) == nil {
				return d.Title, d.Artist, nil
			}
		} else if err != redis.Nil {
			log.Warn().Err(err).Str("sourceRef", sourceRef).Msg("provider: cache read")
		}
	}

	title, artist, err := c.inner.Resolve(ctx, sourceRef)
	if err != nil {
		return "", "", err
	}

	if c.rdb != nil {
		data, _ := json.Marshal(cachedDetails{Title: title, Artist: artist})
		if err := c.rdb.Set(ctx, cacheKey(sourceRef), data, cacheTTL).Err(); err != nil {
			log.Warn().Err(err).Str("sourceRef", sourceRef).Msg("provider: cache write")
		}
	}
	return title, artist, nil
}
