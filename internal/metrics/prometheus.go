// Package metrics exposes Prometheus metrics for settlements, sweeps, balance
// checks, backups and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/timebank/internal/ledger"
	"github.com/dukerupert/timebank/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Manager owns a registry and every timebank metric registered on it.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	settlements       *prometheus.CounterVec
	hoursDebited      *prometheus.CounterVec
	hoursCredited     *prometheus.CounterVec
	clampedCredits    prometheus.Counter
	balanceRejections *prometheus.CounterVec
	transitions       *prometheus.CounterVec

	sweepRuns     prometheus.Counter
	sweepSettled  prometheus.Counter
	sweepSkipped  prometheus.Counter
	sweepFailed   prometheus.Counter
	sweepDuration prometheus.Histogram

	backupRuns      *prometheus.CounterVec
	backupLastSize  prometheus.Gauge
	backupLastEpoch prometheus.Gauge

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "timebank",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.settlements = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "settlements_total",
		Help:      "Progress records settled, by what triggered the settlement.",
	}, []string{"settled_by"})

	m.hoursDebited = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "hours_debited_total",
		Help:      "Hours debited from consumers at settlement.",
	}, []string{"settled_by"})

	m.hoursCredited = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "hours_credited_total",
		Help:      "Hours credited to providers at settlement.",
	}, []string{"settled_by"})

	m.clampedCredits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "clamped_credits_total",
		Help:      "Settlements whose provider credit was reduced by the balance cap.",
	})

	m.balanceRejections = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "balance_rejections_total",
		Help:      "Balance validations that failed, by the side that failed.",
	}, []string{"side"})

	m.transitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "progress",
		Name:      "transitions_total",
		Help:      "Progress state transitions, by the status entered.",
	}, []string{"status"})

	m.sweepRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Completed sweep runs.",
	})

	m.sweepSettled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "settled_total",
		Help:      "Expired records settled by the sweep.",
	})

	m.sweepSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "skipped_total",
		Help:      "Expired records already settled by a concurrent caller.",
	})

	m.sweepFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "failed_total",
		Help:      "Expired records whose settlement failed and will be retried.",
	})

	m.sweepDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Sweep run duration.",
		Buckets:   m.buckets,
	})

	m.backupRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "backup",
		Name:      "runs_total",
		Help:      "Snapshot attempts, by result.",
	}, []string{"result"})

	m.backupLastSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "backup",
		Name:      "last_size_bytes",
		Help:      "Encrypted size of the last successful snapshot.",
	})

	m.backupLastEpoch = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "backup",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time the last successful snapshot completed.",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration by route and method.",
		Buckets:   m.buckets,
	}, []string{"route", "method"})
}

// Settled records one settlement.
func (m *Manager) Settled(by model.SettlementTrigger, debited, credited decimal.Decimal) {
	m.settlements.WithLabelValues(string(by)).Inc()
	m.hoursDebited.WithLabelValues(string(by)).Add(debited.InexactFloat64())
	m.hoursCredited.WithLabelValues(string(by)).Add(credited.InexactFloat64())
	if credited.LessThan(debited) {
		m.clampedCredits.Inc()
	}
}

func (m *Manager) BalanceRejected(side ledger.Side) {
	m.balanceRejections.WithLabelValues(string(side)).Inc()
}

func (m *Manager) Transitioned(to model.ProgressStatus) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

// SweepCompleted records the outcome of one sweep run.
func (m *Manager) SweepCompleted(settled, skipped, failed int, d time.Duration) {
	m.sweepRuns.Inc()
	m.sweepSettled.Add(float64(settled))
	m.sweepSkipped.Add(float64(skipped))
	m.sweepFailed.Add(float64(failed))
	m.sweepDuration.Observe(d.Seconds())
}

// BackupCompleted records one snapshot attempt.
func (m *Manager) BackupCompleted(b *model.Backup, err error) {
	if err != nil {
		m.backupRuns.WithLabelValues("failed").Inc()
		return
	}
	m.backupRuns.WithLabelValues("completed").Inc()
	m.backupLastSize.Set(float64(b.SizeBytes))
	if b.CompletedAt != nil {
		m.backupLastEpoch.Set(float64(b.CompletedAt.Unix()))
	}
}

// ObserveHTTP records one served request. route is the matched mux pattern.
func (m *Manager) ObserveHTTP(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
