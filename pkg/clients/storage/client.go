package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pinledger-backend/pkg/utils"
)

const retries = 3

var ErrNotFound = errors.New("not found")

type Client interface {
	UploadCAR(ctx context.Context, name string, car []byte) (string, error)
	ReportUsage(ctx context.Context, from, to time.Time) (UsageReport, error)
	PlanLimit(ctx context.Context) (limit uint64, unlimited bool, err error)
	GatewayURL(cid string) string
}

type UsageReport struct {
	InitialSize uint64 `json:"initialSize"`
	FinalSize   uint64 `json:"finalSize"`
}

type Result struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

type client struct {
	base    string
	gateway string
	token   string
	client  http.Client
}

func (c *client) UploadCAR(ctx context.Context, name string, car []byte) (string, error) {
	var res struct {
		Root string `json:"root"`
	}

	// uploads are not retried here: the caller re-runs the whole step
	if err := c.doRequest(ctx, http.MethodPost, "/upload?name="+url.QueryEscape(name), "application/vnd.ipld.car", bytes.NewReader(car), &res); err != nil {
		return "", fmt.Errorf("failed to upload car: %w", err)
	}

	if res.Root == "" {
		return "", fmt.Errorf("empty root cid in response")
	}

	return res.Root, nil
}

func (c *client) ReportUsage(ctx context.Context, from, to time.Time) (report UsageReport, err error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	err = utils.TryNTimes(ctx, func() error {
		return c.doRequest(ctx, http.MethodGet, "/usage?"+q.Encode(), "", nil, &report)
	}, retries)
	if err != nil {
		err = fmt.Errorf("failed to get usage report: %w", err)
	}

	return
}

func (c *client) PlanLimit(ctx context.Context) (limit uint64, unlimited bool, err error) {
	var res struct {
		Limit *uint64 `json:"limit"`
	}

	err = utils.TryNTimes(ctx, func() error {
		return c.doRequest(ctx, http.MethodGet, "/plan", "", nil, &res)
	}, retries)
	if err != nil {
		err = fmt.Errorf("failed to get plan: %w", err)
		return
	}

	if res.Limit == nil {
		unlimited = true
		return
	}

	limit = *res.Limit

	return
}

func (c *client) GatewayURL(cid string) string {
	return strings.TrimRight(c.gateway, "/") + "/ipfs/" + cid
}

func (c *client) doRequest(ctx context.Context, method, path, contentType string, body io.Reader, resp any) error {
	if body == nil {
		body = http.NoBody
	}

	r, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(r)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return utils.Permanent(ErrNotFound)
	}

	if res.StatusCode != http.StatusOK {
		var e Result
		_ = json.NewDecoder(res.Body).Decode(&e)
		sErr := fmt.Errorf("status code is %d, error: %s", res.StatusCode, e.Error)
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return sErr
		}
		return utils.Permanent(sErr)
	}

	if err = json.NewDecoder(res.Body).Decode(resp); err != nil {
		return utils.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

func NewClient(base, gateway, token string) Client {
	return &client{
		base:    base,
		gateway: gateway,
		token:   token,
		client: http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}
