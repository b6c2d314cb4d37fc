// Package metrics exposes the Prometheus collectors the monitor loop, queue,
// oracle cache and settlement engine record through, modeled on nhbchain's
// per-service registry pattern (Payoutd(), OracleAttesterd()).
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LiquidatordMetrics wraps the collectors tracking the off-chain monitor and
// settlement path.
type LiquidatordMetrics struct {
	ticksTotal       prometheus.Counter
	tickErrorsTotal  prometheus.Counter
	tickDuration     prometheus.Histogram
	positionsScanned prometheus.Counter
	candidatesQueued *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	oracleFetches    *prometheus.CounterVec
	liquidatorReward prometheus.Counter
	badDebtCharged   prometheus.Counter
	insuranceBalance prometheus.Gauge
}

var (
	once     sync.Once
	registry *LiquidatordMetrics
)

// Liquidatord returns the lazily-initialized, process-wide metrics registry
// for the liquidatord daemon.
func Liquidatord() *LiquidatordMetrics {
	once.Do(func() {
		registry = &LiquidatordMetrics{
			ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "monitor",
				Name:      "ticks_total",
				Help:      "Total monitor loop ticks executed.",
			}),
			tickErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "monitor",
				Name:      "tick_errors_total",
				Help:      "Total ticks that failed wholesale (e.g. position source unavailable).",
			}),
			tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "liquidatord",
				Subsystem: "monitor",
				Name:      "tick_duration_seconds",
				Help:      "Latency distribution of a full monitor tick.",
				Buckets:   prometheus.DefBuckets,
			}),
			positionsScanned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "monitor",
				Name:      "positions_scanned_total",
				Help:      "Total positions evaluated across all ticks.",
			}),
			candidatesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "monitor",
				Name:      "candidates_queued_total",
				Help:      "Total liquidation candidates enqueued, by symbol.",
			}, []string{"symbol"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "monitor",
				Name:      "submissions_total",
				Help:      "Total submissions handed to the external submitter, by outcome.",
			}, []string{"outcome"}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "liquidatord",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of distinct positions currently tracked by the priority queue.",
			}),
			oracleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Total mark-price lookups through the oracle cache (cache hits included), by outcome.",
			}, []string{"outcome"}),
			liquidatorReward: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "settlement",
				Name:      "liquidator_reward_total",
				Help:      "Cumulative liquidator reward paid, in scaled integer units.",
			}),
			badDebtCharged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "liquidatord",
				Subsystem: "settlement",
				Name:      "bad_debt_charged_total",
				Help:      "Cumulative bad debt from full liquidations, including any part the insurance fund could not cover, in scaled integer units.",
			}),
			insuranceBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "liquidatord",
				Subsystem: "settlement",
				Name:      "insurance_fund_balance",
				Help:      "Current insurance fund balance, in scaled integer units.",
			}),
		}
		prometheus.MustRegister(
			registry.ticksTotal,
			registry.tickErrorsTotal,
			registry.tickDuration,
			registry.positionsScanned,
			registry.candidatesQueued,
			registry.submissions,
			registry.queueDepth,
			registry.oracleFetches,
			registry.liquidatorReward,
			registry.badDebtCharged,
			registry.insuranceBalance,
		)
	})
	return registry
}

// ObserveTick records the outcome and latency of one monitor tick.
func (m *LiquidatordMetrics) ObserveTick(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickDuration.Observe(d.Seconds())
	if err != nil {
		m.tickErrorsTotal.Inc()
	}
}

// AddPositionsScanned increments the cumulative count of positions evaluated.
func (m *LiquidatordMetrics) AddPositionsScanned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.positionsScanned.Add(float64(n))
}

// RecordCandidateQueued increments the per-symbol enqueue counter.
func (m *LiquidatordMetrics) RecordCandidateQueued(symbol string) {
	if m == nil {
		return
	}
	m.candidatesQueued.WithLabelValues(labelSymbol(symbol)).Inc()
}

// RecordSubmission records the outcome of handing a popped candidate to the
// external submitter.
func (m *LiquidatordMetrics) RecordSubmission(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current number of distinct tracked positions.
func (m *LiquidatordMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordOracleFetch records the outcome of a mark-price lookup through the
// oracle cache, whether it was served from the cache or fetched upstream.
func (m *LiquidatordMetrics) RecordOracleFetch(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.oracleFetches.WithLabelValues(outcome).Inc()
}

// RecordLiquidationReward adds to the cumulative liquidator reward paid
// across both partial and full liquidations.
func (m *LiquidatordMetrics) RecordLiquidationReward(reward uint64) {
	if m == nil {
		return
	}
	m.liquidatorReward.Add(float64(reward))
}

// RecordBadDebt adds a full liquidation's bad debt (the whole shortfall,
// including any part the insurance fund could not cover) to the cumulative
// total and records the fund's balance immediately after the charge.
func (m *LiquidatordMetrics) RecordBadDebt(badDebt, insuranceBalance uint64) {
	if m == nil {
		return
	}
	m.badDebtCharged.Add(float64(badDebt))
	m.insuranceBalance.Set(float64(insuranceBalance))
}

func labelSymbol(symbol string) string {
	if symbol = strings.TrimSpace(symbol); symbol == "" {
		return "unknown"
	}
	return symbol
}
