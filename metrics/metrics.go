package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// LedgerMetrics covers participation transitions, bill computation and
// notification delivery. A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	transitions      *prometheus.CounterVec
	recomputations   *prometheus.CounterVec
	computeDuration  prometheus.Histogram
	billsPushed      prometheus.Counter
	underMinimum     prometheus.Counter
	outboxDispatched *prometheus.CounterVec
	outboxBatchSize  prometheus.Histogram
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// NewForRegistry builds an unshared instance, mainly for tests.
func NewForRegistry(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	return newLedgerMetrics(registerer, cfg)
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "activity-ledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ledger_participant_transitions_total",
			Help:        "Participant status transitions committed.",
			ConstLabels: constLabels,
		},
		[]string{"from", "to"},
	)

	recomputations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ledger_bill_recomputations_total",
			Help:        "Open bill recomputations by trigger and result.",
			ConstLabels: constLabels,
		},
		[]string{"trigger", "result"}, // result: ok | invalid_custom_total
	)

	computeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "ledger_bill_compute_seconds",
			Help:        "Time spent in the bill computation itself.",
			Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			ConstLabels: constLabels,
		},
	)

	billsPushed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "ledger_bills_pushed_total",
			Help:        "Bills pushed to participants.",
			ConstLabels: constLabels,
		},
	)

	underMinimum := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "ledger_under_minimum_signals_total",
			Help:        "Cancellations that left an activity below its minimum participant count.",
			ConstLabels: constLabels,
		},
	)

	outboxDispatched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "ledger_outbox_dispatched_total",
			Help:        "Outbox events handed to the notifier.",
			ConstLabels: constLabels,
		},
		[]string{"event_type", "result"}, // result: published | failed
	)

	outboxBatchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "ledger_outbox_batch_size",
			Help:        "Events claimed per dispatcher poll.",
			Buckets:     []float64{0, 1, 5, 10, 25, 50, 100},
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		transitions,
		recomputations,
		computeDuration,
		billsPushed,
		underMinimum,
		outboxDispatched,
		outboxBatchSize,
	)

	return &LedgerMetrics{
		transitions:      transitions,
		recomputations:   recomputations,
		computeDuration:  computeDuration,
		billsPushed:      billsPushed,
		underMinimum:     underMinimum,
		outboxDispatched: outboxDispatched,
		outboxBatchSize:  outboxBatchSize,
	}
}

func (m *LedgerMetrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *LedgerMetrics) IncRecomputation(trigger, result string) {
	if m == nil {
		return
	}
	m.recomputations.WithLabelValues(trigger, result).Inc()
}

func (m *LedgerMetrics) ObserveCompute(d time.Duration) {
	if m == nil {
		return
	}
	m.computeDuration.Observe(d.Seconds())
}

func (m *LedgerMetrics) IncBillPushed() {
	if m == nil {
		return
	}
	m.billsPushed.Inc()
}

func (m *LedgerMetrics) IncUnderMinimum() {
	if m == nil {
		return
	}
	m.underMinimum.Inc()
}

func (m *LedgerMetrics) IncDispatched(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxDispatched.WithLabelValues(eventType, result).Inc()
}

func (m *LedgerMetrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.outboxBatchSize.Observe(float64(size))
}
