// Package metrics exposes Prometheus instrumentation for the history store.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatlog"

// Metrics holds the collectors registered for one daemon.
type Metrics struct {
	writes        *prometheus.CounterVec
	writeErrors   *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	liveQueries   prometheus.Gauge
	feedUpdates   *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "History records appended or transitioned, by kind.",
		}, []string{"kind"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_errors_total",
			Help:      "History writes that failed in the record store, by kind.",
		}, []string{"kind"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_query_duration_seconds",
			Help:      "Latency of history queries, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		liveQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_live_queries",
			Help:      "Live recent-activity queries that are not canceled.",
		}),
		feedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recent_feed_notifications_total",
			Help:      "Added/updated notifications fired by live queries.",
		}, []string{"type"}),
		gatherer: reg,
	}
	reg.MustRegister(m.writes, m.writeErrors, m.queryDuration, m.liveQueries, m.feedUpdates)
	return m
}

// ObserveWrite counts a write of the given kind and its failure, if any.
func (m *Metrics) ObserveWrite(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.writeErrors.WithLabelValues(kind).Inc()
		return
	}
	m.writes.WithLabelValues(kind).Inc()
}

// ObserveQuery records the latency of a query started at start.
func (m *Metrics) ObserveQuery(op string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// LiveQueryStarted increments the live query gauge.
func (m *Metrics) LiveQueryStarted() {
	if m == nil {
		return
	}
	m.liveQueries.Inc()
}

// LiveQueryStopped decrements the live query gauge.
func (m *Metrics) LiveQueryStopped() {
	if m == nil {
		return
	}
	m.liveQueries.Dec()
}

// FeedNotification counts a live-feed notification of the given type.
func (m *Metrics) FeedNotification(typ string) {
	if m == nil {
		return
	}
	m.feedUpdates.WithLabelValues(typ).Inc()
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
