// Package monitor implements the periodic off-chain loop that scans open
// positions, prices them against a per-tick-local oracle cache, computes
// margin health through the fixed-point kernel, and enqueues violators onto
// the liquidation priority queue. Grounded on nhbchain's services/payoutd
// consumer-loop discipline: a tick's body (including the drain step) runs to
// completion before the next timer fire is consumed, and every tick-local
// error is logged and swallowed rather than propagated.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Divas-Sagta/goquant-liquidation/internal/fixedpoint"
	"github.com/Divas-Sagta/goquant-liquidation/internal/liqqueue"
	"github.com/Divas-Sagta/goquant-liquidation/internal/oracle"
	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
	"github.com/Divas-Sagta/goquant-liquidation/internal/submitter"
)

// DefaultTickPeriod is the period applied when a Loop is built with a zero
// period.
const DefaultTickPeriod = 1000 * time.Millisecond

// Metrics is the subset of observability/metrics.LiquidatordMetrics the loop
// records through. Declared as an interface so tests can supply a no-op or
// a recording stub without importing Prometheus.
type Metrics interface {
	ObserveTick(d time.Duration, err error)
	AddPositionsScanned(n int)
	RecordCandidateQueued(symbol string)
	RecordSubmission(err error)
	RecordOracleFetch(err error)
	SetQueueDepth(n int)
}

// noopMetrics satisfies Metrics without recording anything, used when a Loop
// is built without a metrics sink.
type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration, error) {}
func (noopMetrics) AddPositionsScanned(int)          {}
func (noopMetrics) RecordCandidateQueued(string)     {}
func (noopMetrics) RecordSubmission(error)           {}
func (noopMetrics) RecordOracleFetch(error)          {}
func (noopMetrics) SetQueueDepth(int)                {}

// Loop is the monitor's periodic task. One tick body never overlaps the
// next: Run's ticker loop only re-arms after the previous tick's drain step
// has fully completed.
type Loop struct {
	positions position.Source
	prices    *oracle.Cache
	queue     *liqqueue.Queue
	submit    submitter.Submitter
	period    time.Duration
	log       *slog.Logger
	metrics   Metrics
	nowFn     func() time.Time
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithPeriod overrides the tick period. A non-positive value is ignored.
func WithPeriod(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.period = d
		}
	}
}

// WithLogger overrides the logger. A nil logger is ignored.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics overrides the metrics sink. A nil sink is ignored.
func WithMetrics(m Metrics) Option {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLoop builds a Loop over the given collaborators.
func NewLoop(positions position.Source, prices *oracle.Cache, queue *liqqueue.Queue, submit submitter.Submitter, opts ...Option) *Loop {
	l := &Loop{
		positions: positions,
		prices:    prices,
		queue:     queue,
		submit:    submit,
		period:    DefaultTickPeriod,
		log:       slog.Default(),
		metrics:   noopMetrics{},
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives the tick loop until ctx is cancelled. Ticks do not overlap: the
// ticker is consumed only after a tick's full body, including the drain
// step, has returned.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick executes exactly one sweep: snapshot positions, evaluate margin,
// enqueue violators, then drain the queue under the cooldown discipline. A
// wholesale failure (e.g. the position source is unavailable) is logged and
// the tick ends early; the next tick proceeds independently.
func (l *Loop) tick(ctx context.Context) {
	start := l.now()
	err := l.runTick(ctx)
	l.metrics.ObserveTick(l.now().Sub(start), err)
	if err != nil {
		l.log.Error("monitor tick failed", "error", err)
	}
}

func (l *Loop) runTick(ctx context.Context) error {
	positions, err := l.positions.OpenPositions(ctx)
	if err != nil {
		return err
	}
	l.metrics.AddPositionsScanned(len(positions))

	openIDs := make(map[position.ID]struct{}, len(positions))
	localPrices := make(map[string]uint64, len(positions))
	for _, pos := range positions {
		openIDs[pos.ID] = struct{}{}
		mark, ok := localPrices[pos.Symbol]
		if !ok {
			price, err := l.prices.GetMarkPrice(ctx, pos.Symbol)
			l.metrics.RecordOracleFetch(err)
			if err != nil {
				l.log.Warn("oracle fetch failed", "symbol", pos.Symbol, "error", err)
				continue
			}
			localPrices[pos.Symbol] = price
			mark = price
		}

		marginBps, posValue, err := fixedpoint.MarginRatioBps(pos.Size, pos.EntryPrice, pos.Collateral, pos.IsLong, mark)
		if err != nil {
			l.log.Warn("margin computation failed", "position", pos.ID, "error", err)
			continue
		}
		if posValue.Sign() <= 0 {
			continue
		}
		maintenance := fixedpoint.MaintenanceBps(pos.Leverage)
		if marginBps >= maintenance {
			continue
		}

		l.queue.Enqueue(liqqueue.Candidate{
			Position:    pos,
			MarkPrice:   mark,
			MarginRatio: marginBps,
			PositionVal: posValue,
		})
		l.metrics.RecordCandidateQueued(pos.Symbol)
	}

	l.sweepClosed(openIDs)
	l.drain(ctx)
	l.metrics.SetQueueDepth(l.queue.Len())
	return nil
}

// sweepClosed drops any tracked candidate whose position no longer appears
// in the current open-positions snapshot, per spec.md §9's note that closed
// positions would otherwise occupy the queue until natural eviction.
func (l *Loop) sweepClosed(openIDs map[position.ID]struct{}) {
	for _, id := range l.queue.SnapshotIDs() {
		if _, ok := openIDs[id]; !ok {
			l.queue.Remove(id)
		}
	}
}

// drain hands every currently-poppable candidate to the external submitter.
// Best-effort: an individual submission error is logged and does not abort
// the remainder of the drain.
func (l *Loop) drain(ctx context.Context) {
	for {
		item, ok := l.queue.Pop()
		if !ok {
			return
		}
		_, err := l.submit.Submit(ctx, item.Candidate)
		l.metrics.RecordSubmission(err)
		if err != nil {
			l.log.Warn("liquidation submission failed",
				"position", item.Candidate.Position.ID,
				"symbol", item.Candidate.Position.Symbol,
				"error", err)
		}
	}
}

func (l *Loop) now() time.Time {
	if l.nowFn != nil {
		return l.nowFn()
	}
	return time.Now()
}
