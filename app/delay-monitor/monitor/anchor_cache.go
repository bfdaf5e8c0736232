package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/rs/zerolog"
)

// AnchorLoader builds the AnchorPath of a scheduled trip when it is not cached.
type AnchorLoader func(ctx context.Context, scheduledTripId string) (*AnchorPath, error)

// AnchorCache memoizes anchor paths as json strings keyed by scheduled trip id.
// Concurrent misses for the same trip may both build and store, the result is identical.
type AnchorCache struct {
	log   *zerolog.Logger
	cache *cache.Cache[string]
}

// NewAnchorCache creates an AnchorCache on top of c.
func NewAnchorCache(log *zerolog.Logger, c *cache.Cache[string]) *AnchorCache {
	return &AnchorCache{log: log, cache: c}
}

func anchorPathKey(scheduledTripId string) string {
	return fmt.Sprintf("anchor_path:%s", scheduledTripId)
}

// Get returns the cached AnchorPath of scheduledTripId, building and storing it with load on a miss.
func (a *AnchorCache) Get(ctx context.Context, scheduledTripId string, load AnchorLoader) (*AnchorPath, error) {
	key := anchorPathKey(scheduledTripId)
	if cached, err := a.cache.Get(ctx, key); err == nil && cached != "" {
		path := AnchorPath{}
		if err = json.Unmarshal([]byte(cached), &path); err == nil {
			return &path, nil
		}
		a.log.Warn().Err(err).Str("key", key).Msg("discarding unreadable anchor path")
	}

	path, err := load(ctx, scheduledTripId)
	if err != nil {
		return nil, err
	}
	pathJson, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("unable to encode anchor path for %s: %w", scheduledTripId, err)
	}
	if err = a.cache.Set(ctx, key, string(pathJson)); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("unable to cache anchor path")
	}
	return path, nil
}
