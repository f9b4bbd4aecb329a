package system

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsMiddleware struct {
	reqCount    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
	repo        Repository
}

func (m *metricsMiddleware) SetParam(ctx context.Context, key string, value string) (err error) {
	defer func(s time.Time) { m.observe("SetParam", s, err) }(time.Now())
	return m.repo.SetParam(ctx, key, value)
}

func (m *metricsMiddleware) GetParam(ctx context.Context, key string) (value string, err error) {
	defer func(s time.Time) { m.observe("GetParam", s, err) }(time.Now())
	return m.repo.GetParam(ctx, key)
}

func (m *metricsMiddleware) observe(method string, started time.Time, err error) {
	labels := []string{method, strconv.FormatBool(err != nil)}
	m.reqCount.WithLabelValues(labels...).Inc()
	m.reqDuration.WithLabelValues(labels...).Observe(time.Since(started).Seconds())
}

func NewMetrics(reqCount *prometheus.CounterVec, reqDuration *prometheus.HistogramVec, repo Repository) Repository {
	return &metricsMiddleware{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		repo:        repo,
	}
}
