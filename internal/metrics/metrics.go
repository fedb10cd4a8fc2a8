// Package metrics provides a Prometheus-backed implementation of
// pgcore.ExchangeRecorder for the inspection CLI. The driver core itself
// has no dependency on this package — a recorder is entirely optional and
// wired in only by cmd/pgcoreinspect.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records per-exchange counts, durations and errors for every
// connection that has it wired in as an ExchangeRecorder.
type Collector struct {
	Registry          *prometheus.Registry
	exchangesTotal    *prometheus.CounterVec
	exchangeDuration  *prometheus.HistogramVec
	exchangeErrors    *prometheus.CounterVec
}

// New creates and registers the exchange metrics on a fresh registry. Safe
// to call multiple times (e.g. in tests) — each call is independent.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		exchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgcore_exchanges_total",
				Help: "Total wire exchanges performed, by kind",
			},
			[]string{"target", "kind"},
		),
		exchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgcore_exchange_duration_seconds",
				Help:    "Duration of a single exchange (write through ReadyForQuery)",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"target", "kind"},
		),
		exchangeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgcore_exchange_errors_total",
				Help: "Exchanges that ended in an error, by kind",
			},
			[]string{"target", "kind"},
		),
	}

	reg.MustRegister(c.exchangesTotal, c.exchangeDuration, c.exchangeErrors)
	return c
}

// ForTarget binds this collector to a named target (e.g. a config.Target
// name), returning a closure suitable as the ExchangeRecorder argument to
// pgcore.OpenWithRecorder.
func (c *Collector) ForTarget(target string) func(kind string, d time.Duration, failed bool) {
	return func(kind string, d time.Duration, failed bool) {
		c.exchangesTotal.WithLabelValues(target, kind).Inc()
		c.exchangeDuration.WithLabelValues(target, kind).Observe(d.Seconds())
		if failed {
			c.exchangeErrors.WithLabelValues(target, kind).Inc()
		}
	}
}
