package baseline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"insiderwatch/internal/cache"
)

// Cached fronts another provider with a cache.Store. Cache failures are
// logged and bypassed.
type Cached struct {
	Next   Provider
	Store  cache.Store
	TTL    time.Duration
	Logger *zap.Logger
}

func (c *Cached) Lookup(ctx context.Context, key Key) (Set, error) {
	if c.Store == nil {
		return c.Next.Lookup(ctx, key)
	}
	ck := key.String()
	raw, found, err := c.Store.Get(ctx, ck)
	if err != nil {
		c.warn("baseline cache get failed", err)
	} else if found {
		var set Set
		uerr := json.Unmarshal(raw, &set)
		if uerr == nil {
			return set, nil
		}
		c.warn("baseline cache entry corrupt", uerr)
	}

	set, err := c.Next.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(set); err == nil {
		if err := c.Store.Set(ctx, ck, raw, c.TTL); err != nil {
			c.warn("baseline cache set failed", err)
		}
	}
	return set, nil
}

func (c *Cached) warn(msg string, err error) {
	if c.Logger != nil {
		c.Logger.Warn(msg, zap.Error(err))
	}
}
