package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the dispatch loop.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal        *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	consideredTotal    prometheus.Counter
	outcomesTotal      *prometheus.CounterVec
	claimConflicts     prometheus.Counter
	staleReleasedTotal prometheus.Counter
	sendDuration       prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailroom",
				Name:      "dispatch_cycles_total",
				Help:      "Total number of dispatch cycles by result.",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mailroom",
				Name:      "dispatch_cycle_duration_seconds",
				Help:      "Dispatch cycle duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		consideredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mailroom",
				Name:      "notifications_considered_total",
				Help:      "Total number of notification records pulled into a batch.",
			},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailroom",
				Name:      "notification_outcomes_total",
				Help:      "Total number of recorded delivery outcomes by result.",
			},
			[]string{"result"},
		),
		claimConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mailroom",
				Name:      "claim_conflicts_total",
				Help:      "Total number of records lost to a concurrent claim.",
			},
		),
		staleReleasedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mailroom",
				Name:      "stale_claims_released_total",
				Help:      "Total number of in-progress records reverted to pending by the reaper.",
			},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mailroom",
				Name:      "send_duration_seconds",
				Help:      "Delivery attempt duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cyclesTotal,
		m.cycleDuration,
		m.consideredTotal,
		m.outcomesTotal,
		m.claimConflicts,
		m.staleReleasedTotal,
		m.sendDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(normalizeLabel(result)).Inc()
	m.cycleDuration.Observe(clampSeconds(duration))
}

func (m *Metrics) AddConsidered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.consideredTotal.Add(float64(count))
}

func (m *Metrics) IncOutcome(result string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) AddStaleReleased(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.staleReleasedTotal.Add(float64(count))
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.Observe(clampSeconds(duration))
}

func clampSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
