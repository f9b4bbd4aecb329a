package system

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cacheMiddleware struct {
	svc   Repository
	cache *expirable.LRU[string, string]
}

func (f *cacheMiddleware) SetParam(ctx context.Context, key string, value string) (err error) {
	err = f.svc.SetParam(ctx, key, value)
	if err != nil {
		return
	}

	f.cache.Add(key, value)

	return
}

func (f *cacheMiddleware) GetParam(ctx context.Context, key string) (value string, err error) {
	if value, ok := f.cache.Get(key); ok && value != "" {
		return value, nil
	}

	value, err = f.svc.GetParam(ctx, key)
	if err != nil || value == "" {
		return
	}

	f.cache.Add(key, value)

	return
}

func NewCacheMiddleware(
	svc Repository,
	ttl time.Duration,
) Repository {
	return &cacheMiddleware{
		svc:   svc,
		cache: expirable.NewLRU[string, string](64, nil, ttl),
	}
}
