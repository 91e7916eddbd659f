package cache

import (
	"context"
	"strings"
	"time"

	"triage_worker/core/domain"
	"triage_worker/core/port/out"

	gocache "github.com/patrickmn/go-cache"
)

// ProfileCache keeps sender profiles in process memory in front of a
// SenderProfileStore. Empty profiles are cached too; errors are not.
type ProfileCache struct {
	store out.SenderProfileStore
	cache *gocache.Cache
}

func NewProfileCache(store out.SenderProfileStore, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProfileCache{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *ProfileCache) GetProfile(ctx context.Context, senderAddress string) (domain.SenderProfile, error) {
	key := strings.ToLower(strings.TrimSpace(senderAddress))
	if v, ok := c.cache.Get(key); ok {
		return v.(domain.SenderProfile), nil
	}
	p, err := c.store.GetProfile(ctx, key)
	if err != nil {
		return p, err
	}
	c.cache.SetDefault(key, p)
	return p, nil
}

// Invalidate drops a cached profile after it was changed.
func (c *ProfileCache) Invalidate(senderAddress string) {
	c.cache.Delete(strings.ToLower(strings.TrimSpace(senderAddress)))
}

func (c *ProfileCache) Len() int {
	return c.cache.ItemCount()
}
