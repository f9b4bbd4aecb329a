package deposits

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

func (m *metricsMiddleware) GetDepositByCID(ctx context.Context, cid string) (d *db.Deposit, err error) {
	defer func(s time.Time) {
		labels := []string{
			"GetDepositByCID", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.GetDepositByCID(ctx, cid)
}

func (m *metricsMiddleware) CreateDeposit(ctx context.Context, deposit db.Deposit, tx db.Transaction) (d db.Deposit, err error) {
	defer func(s time.Time) {
		labels := []string{
			"CreateDeposit", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.CreateDeposit(ctx, deposit, tx)
}

func (m *metricsMiddleware) AttachSignature(ctx context.Context, cid string, slot uint64, tx db.Transaction) (d db.Deposit, err error) {
	defer func(s time.Time) {
		labels := []string{
			"AttachSignature", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.AttachSignature(ctx, cid, slot, tx)
}

func (m *metricsMiddleware) ApplyRenewal(ctx context.Context, renewal db.Renewal) (d db.Deposit, applied bool, err error) {
	defer func(s time.Time) {
		labels := []string{
			"ApplyRenewal", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.ApplyRenewal(ctx, renewal)
}

func (m *metricsMiddleware) ListByOwner(ctx context.Context, owner string, limit, offset int) (deposits []db.Deposit, total int64, err error) {
	defer func(s time.Time) {
		labels := []string{
			"ListByOwner", strconv.FormatBool(err != nil),
		}
		m.reqCount.WithLabelValues(labels...).Add(1)
		m.reqDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())
	return m.repo.ListByOwner(ctx, owner, limit, offset)
}

func NewMetrics(reqCount *prometheus.CounterVec, reqDuration *prometheus.HistogramVec, repo Repository) Repository {
	return &metricsMiddleware{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		repo:        repo,
	}
}
