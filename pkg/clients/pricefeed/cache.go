package pricefeed

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
)

const rateKey = "exchange_rate"

type cacheMiddleware struct {
	cache *expirable.LRU[string, decimal.Decimal]
	svc   Client
}

func (c *cacheMiddleware) ExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	if rate, found := c.cache.Get(rateKey); found {
		return rate, nil
	}

	rate, err := c.svc.ExchangeRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	c.cache.Add(rateKey, rate)

	return rate, nil
}

func NewCacheMiddleware(svc Client, ttl time.Duration) Client {
	return &cacheMiddleware{
		cache: expirable.NewLRU[string, decimal.Decimal](1, nil, ttl),
		svc:   svc,
	}
}
