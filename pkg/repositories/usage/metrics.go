package usage

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pinledger-backend/pkg/models/db"
)

type metricsMiddleware struct {
	reqCount    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
	repo        Repository
}

func (m *metricsMiddleware) ActiveUsage(ctx context.Context) (bytes uint64, uploads uint64, err error) {
	defer func(s time.Time) {
		labels := []string{
			"ActiveUsage", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.ActiveUsage(ctx)
}

func (m *metricsMiddleware) InsertSnapshot(ctx context.Context, snapshot db.UsageSnapshot) (err error) {
	defer func(s time.Time) {
		labels := []string{
			"InsertSnapshot", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.InsertSnapshot(ctx, snapshot)
}

func (m *metricsMiddleware) InsertComparison(ctx context.Context, c db.UsageComparison) (err error) {
	defer func(s time.Time) {
		labels := []string{
			"InsertComparison", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.InsertComparison(ctx, c)
}

func (m *metricsMiddleware) CreateAlert(ctx context.Context, a db.UsageAlert) (created bool, err error) {
	defer func(s time.Time) {
		labels := []string{
			"CreateAlert", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.CreateAlert(ctx, a)
}

func (m *metricsMiddleware) ResolveAlert(ctx context.Context, id string, at time.Time) (resolved bool, err error) {
	defer func(s time.Time) {
		labels := []string{
			"ResolveAlert", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.ResolveAlert(ctx, id, at)
}

func (m *metricsMiddleware) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) (alerts []db.UsageAlert, err error) {
	defer func(s time.Time) {
		labels := []string{
			"ListAlerts", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.ListAlerts(ctx, unresolvedOnly, limit)
}

func NewMetrics(reqCount *prometheus.CounterVec, reqDuration *prometheus.HistogramVec, repo Repository) Repository {
	return &metricsMiddleware{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		repo:        repo,
	}
}
