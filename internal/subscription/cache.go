package subscription

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedRepository keeps a short-lived snapshot of FindActiveByEvent results
// per event type. Any mutation through it purges the whole cache; writes made
// by other processes become visible once the TTL passes.
type CachedRepository struct {
	Repository
	cache *lru.LRU[string, []Subscription]
}

func NewCachedRepository(repo Repository, size int, ttl time.Duration) *CachedRepository {
	if size < 1 {
		size = 128
	}
	return &CachedRepository{
		Repository: repo,
		cache:      lru.NewLRU[string, []Subscription](size, nil, ttl),
	}
}

func (c *CachedRepository) FindActiveByEvent(ctx context.Context, eventType string) ([]Subscription, error) {
	if subs, ok := c.cache.Get(eventType); ok {
		return copySubs(subs), nil
	}
	subs, err := c.Repository.FindActiveByEvent(ctx, eventType)
	if err != nil {
		return nil, err
	}
	c.cache.Add(eventType, copySubs(subs))
	return subs, nil
}

func copySubs(subs []Subscription) []Subscription {
	out := make([]Subscription, len(subs))
	for i, s := range subs {
		out[i] = snapshot(s)
	}
	return out
}

func (c *CachedRepository) Create(ctx context.Context, in NewSubscription) (Subscription, error) {
	s, err := c.Repository.Create(ctx, in)
	if err == nil {
		c.cache.Purge()
	}
	return s, err
}

func (c *CachedRepository) Update(ctx context.Context, owner, id string, patch Patch) (Subscription, error) {
	s, err := c.Repository.Update(ctx, owner, id, patch)
	if err == nil {
		c.cache.Purge()
	}
	return s, err
}

func (c *CachedRepository) Delete(ctx context.Context, owner, id string) error {
	err := c.Repository.Delete(ctx, owner, id)
	if err == nil {
		c.cache.Purge()
	}
	return err
}
