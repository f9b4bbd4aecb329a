package httpServer

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestsCount    *prometheus.CounterVec
	requestsDuration *prometheus.HistogramVec
}

func (m *metrics) metricsMiddleware(c *fiber.Ctx) (err error) {
	defer func(s time.Time) {
		// route path keeps the label set bounded
		path := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			var fErr *fiber.Error
			if errors.As(err, &fErr) {
				status = fErr.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		labels := []string{c.Method(), path, strconv.Itoa(status)}
		m.requestsCount.WithLabelValues(labels...).Inc()
		m.requestsDuration.WithLabelValues(labels...).Observe(time.Since(s).Seconds())
	}(time.Now())

	return c.Next()
}

func newMetrics(namespace, subsystem string) *metrics {
	requestsCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_count",
			Help:      "HTTP requests count",
		},
		[]string{"method", "path", "status"},
	)

	requestsDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_duration",
			Help:      "HTTP requests duration",
		},
		[]string{"method", "path", "status"},
	)

	return &metrics{
		requestsCount:    register(requestsCount),
		requestsDuration: register(requestsDuration),
	}
}

// register returns the already registered collector when routes are set up
// more than once in the same process.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
