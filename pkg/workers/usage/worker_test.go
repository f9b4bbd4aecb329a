package usageworker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinledger-backend/pkg/models/db"
)

type stubUsage struct {
	err error
}

func (s stubUsage) DailySnapshot(context.Context) (db.UsageSnapshot, []db.UsageAlert, error) {
	return db.UsageSnapshot{ID: "s"}, []db.UsageAlert{{AlertType: "threshold_80"}}, s.err
}

func (s stubUsage) WeeklyComparison(context.Context) (db.UsageComparison, []db.UsageAlert, error) {
	return db.UsageComparison{Status: db.ComparisonStatusOK}, nil, s.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestIntervals(t *testing.T) {
	w := NewWorker(stubUsage{}, time.Hour, 7*time.Hour, discard)

	interval, err := w.TakeSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, interval)

	interval, err = w.CompareUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7*time.Hour, interval)

	w = NewWorker(stubUsage{err: errors.New("down")}, time.Hour, 7*time.Hour, discard)
	interval, err = w.TakeSnapshot(context.Background())
	assert.Error(t, err)
	assert.Equal(t, failureRetryInterval, interval)
}

func TestMetrics(t *testing.T) {
	count := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "c"}, []string{"method", "error"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "d"}, []string{"method", "error"})

	w := NewMetrics(count, duration, NewWorker(stubUsage{err: errors.New("down")}, time.Hour, time.Hour, discard))
	_, _ = w.CompareUsage(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(count.WithLabelValues("CompareUsage", "true")))
}
