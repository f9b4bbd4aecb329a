package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"pinledger-backend/pkg/utils"
)

const retries = 3

var ErrNoPrice = errors.New("price feed returned no price")

type Client interface {
	// ExchangeRate returns how many stable units one payment token is worth.
	ExchangeRate(ctx context.Context) (decimal.Decimal, error)
}

type client struct {
	base     string
	tokenID  string
	currency string
	client   http.Client
}

func (c *client) ExchangeRate(ctx context.Context) (rate decimal.Decimal, err error) {
	q := url.Values{}
	q.Set("ids", c.tokenID)
	q.Set("vs_currencies", c.currency)

	var res map[string]map[string]json.Number
	err = utils.TryNTimes(ctx, func() error {
		return c.doRequest(ctx, "/simple/price?"+q.Encode(), &res)
	}, retries)
	if err != nil {
		err = fmt.Errorf("failed to fetch exchange rate: %w", err)
		return
	}

	raw, ok := res[c.tokenID][c.currency]
	if !ok {
		err = ErrNoPrice
		return
	}

	rate, err = decimal.NewFromString(raw.String())
	if err != nil {
		err = fmt.Errorf("failed to parse exchange rate %q: %w", raw, err)
		return
	}

	if !rate.IsPositive() {
		err = ErrNoPrice
		return
	}

	return
}

func (c *client) doRequest(ctx context.Context, path string, resp any) error {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	r.Header.Set("Accept", "application/json")

	res, err := c.client.Do(r)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return fmt.Errorf("status code is %d", res.StatusCode)
	}

	if res.StatusCode != http.StatusOK {
		return utils.Permanent(fmt.Errorf("status code is %d", res.StatusCode))
	}

	if err = json.NewDecoder(res.Body).Decode(resp); err != nil {
		return utils.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

func NewClient(base, tokenID, currency string) Client {
	return &client{
		base:     base,
		tokenID:  tokenID,
		currency: currency,
		client: http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
