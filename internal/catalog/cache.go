package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const priceWindowsPrefix = "catalog:price_windows:"

// CachedPrices is a read-through Redis cache in front of a PriceStore. It
// caches the raw windows rather than a resolved price, so an entry stays
// valid as the clock moves past window boundaries; only edits to the
// windows call for Invalidate. Concurrent misses on one variant share a
// single store read.
type CachedPrices struct {
	next   PriceStore
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	flight singleflight.Group
}

// NewCachedPrices wraps next. A nil client or non-positive ttl turns the
// cache off and every call goes to next.
func NewCachedPrices(next PriceStore, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *CachedPrices {
	c := &CachedPrices{next: next, client: client, ttl: ttl, logger: zerolog.Nop()}
	if logger != nil {
		c.logger = *logger
	}
	return c
}

func (c *CachedPrices) enabled() bool { return c.client != nil && c.ttl > 0 }

// PriceWindows implements PriceStore.
func (c *CachedPrices) PriceWindows(ctx context.Context, variantID uuid.UUID) ([]PriceWindow, error) {
	if !c.enabled() {
		return c.next.PriceWindows(ctx, variantID)
	}
	key := priceWindowsPrefix + variantID.String()

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var windows []PriceWindow
		if err := json.Unmarshal(raw, &windows); err == nil {
			return windows, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable price cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("price cache read failed")
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		windows, err := c.next.PriceWindows(ctx, variantID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(windows); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("price cache write failed")
			}
		}
		return windows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]PriceWindow), nil
}

// Invalidate drops the cached windows of the given variants.
func (c *CachedPrices) Invalidate(ctx context.Context, variantIDs ...uuid.UUID) error {
	if !c.enabled() || len(variantIDs) == 0 {
		return nil
	}
	keys := make([]string, len(variantIDs))
	for i, id := range variantIDs {
		keys[i] = priceWindowsPrefix + id.String()
	}
	return c.client.Del(ctx, keys...).Err()
}
