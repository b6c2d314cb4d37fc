// Package settlement implements the authoritative partial/full liquidation
// state machine. Every precondition the monitor checked off-chain is
// re-verified here, because the monitor is advisory and may act on stale or
// floating-point-approximated data.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/Divas-Sagta/goquant-liquidation/internal/fixedpoint"
	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
)

// LiquidatorRewardBps is the liquidator's bounty, in basis points of the
// liquidated notional value.
const LiquidatorRewardBps = 250

// DefaultMaxOracleStaleness is the maximum age a price feed observation may
// have and still back a settlement instruction.
const DefaultMaxOracleStaleness = 30 * time.Second

var (
	// ErrPositionHealthy is returned when a position's margin ratio is not
	// below its maintenance threshold.
	ErrPositionHealthy = errors.New("settlement: position is healthy")
	// ErrStaleOraclePrice is returned when the price feed is older than the
	// configured staleness bound.
	ErrStaleOraclePrice = errors.New("settlement: oracle price is stale")
	// ErrInvalidLiquidationSize is returned when the requested liquidation
	// size resolves to zero after capping.
	ErrInvalidLiquidationSize = errors.New("settlement: invalid liquidation size")
	// ErrPositionClosed is returned for any instruction against a closed
	// position.
	ErrPositionClosed = errors.New("settlement: position already closed")
)

// PriceFeed is the persisted account backing a symbol's authoritative price.
type PriceFeed struct {
	Price       uint64
	LastUpdated time.Time
}

// InsuranceFund is the persisted pooled reserve absorbing bad debt.
type InsuranceFund struct {
	Balance             uint64
	TotalContributions  uint64
	TotalBadDebtCovered uint64
	UtilizationRatioBps uint64
}

// recomputeUtilization refreshes UtilizationRatioBps from the fund's
// monotonic counters.
func (f *InsuranceFund) recomputeUtilization() {
	if f.TotalContributions == 0 {
		f.UtilizationRatioBps = 0
		return
	}
	// utilization_ratio = total_bad_debt_covered * 10_000 / total_contributions
	num := new(big.Int).Mul(new(big.Int).SetUint64(f.TotalBadDebtCovered), big.NewInt(fixedpoint.BPS))
	num.Quo(num, new(big.Int).SetUint64(f.TotalContributions))
	if num.IsUint64() {
		f.UtilizationRatioBps = num.Uint64()
	} else {
		f.UtilizationRatioBps = ^uint64(0)
	}
}

// LiquidationRecord is the sole durable output of a successful liquidation.
type LiquidationRecord struct {
	Owner            position.Owner
	Liquidator       position.Owner
	Symbol           string
	LiquidatedSize   uint64
	LiquidationPrice uint64
	MarginBeforeBps  uint64
	MarginAfterBps   uint64
	LiquidatorReward uint64
	BadDebt          uint64
	Timestamp        time.Time
}

// State is the narrow persistence seam the engine depends on: positions,
// price feeds, and the insurance fund. Implementations are external
// collaborators (an on-chain account store, a database, an in-memory stub
// for tests).
type State interface {
	GetPosition(ctx context.Context, id position.ID) (position.Position, error)
	PutPosition(ctx context.Context, p position.Position) error
	GetPriceFeed(ctx context.Context, symbol string) (PriceFeed, error)
	GetInsuranceFund(ctx context.Context) (InsuranceFund, error)
	PutInsuranceFund(ctx context.Context, fund InsuranceFund) error
}

// Engine is the authoritative settlement state machine.
type Engine struct {
	state        State
	rewardBps    uint64
	maxStaleness time.Duration
	nowFn        func() time.Time
	metrics      Metrics
}

// Metrics is the subset of observability/metrics.LiquidatordMetrics the
// engine records settlement outcomes through. Declared as an interface so
// tests and callers that don't want Prometheus wiring can supply a no-op.
type Metrics interface {
	RecordLiquidationReward(reward uint64)
	RecordBadDebt(badDebt, insuranceBalance uint64)
}

// noopMetrics satisfies Metrics without recording anything, used when an
// Engine is built without a metrics sink.
type noopMetrics struct{}

func (noopMetrics) RecordLiquidationReward(uint64) {}
func (noopMetrics) RecordBadDebt(uint64, uint64)   {}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithRewardBps overrides the liquidator reward, in basis points.
func WithRewardBps(bps uint64) Option {
	return func(e *Engine) { e.rewardBps = bps }
}

// WithMaxStaleness overrides the maximum tolerated oracle age.
func WithMaxStaleness(d time.Duration) Option {
	return func(e *Engine) { e.maxStaleness = d }
}

// WithMetrics overrides the metrics sink. A nil sink is ignored.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine builds an Engine backed by state.
func NewEngine(state State, opts ...Option) *Engine {
	e := &Engine{
		state:        state,
		rewardBps:    LiquidatorRewardBps,
		maxStaleness: DefaultMaxOracleStaleness,
		nowFn:        time.Now,
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now()
}

// checkCommonPreconditions re-verifies closedness, oracle freshness, and
// margin health, returning the recomputed margin ratio and notional value
// for use by the caller.
func (e *Engine) checkCommonPreconditions(pos position.Position, feed PriceFeed) (marginBeforeBps uint64, positionValue *big.Int, err error) {
	if pos.Closed {
		return 0, nil, ErrPositionClosed
	}
	if e.now().Sub(feed.LastUpdated) > e.maxStaleness {
		return 0, nil, ErrStaleOraclePrice
	}
	marginBeforeBps, positionValue, err = fixedpoint.MarginRatioBps(pos.Size, pos.EntryPrice, pos.Collateral, pos.IsLong, feed.Price)
	if err != nil {
		return 0, nil, err
	}
	maintenance := fixedpoint.MaintenanceBps(pos.Leverage)
	if marginBeforeBps >= maintenance {
		return 0, nil, ErrPositionHealthy
	}
	return marginBeforeBps, positionValue, nil
}

// LiquidatePartial closes up to half of a position's size, paying the
// liquidator a reward and leaving the position open with reduced size and
// collateral.
func (e *Engine) LiquidatePartial(ctx context.Context, id position.ID, liquidator position.Owner, liquidationSize uint64) (*LiquidationRecord, error) {
	pos, err := e.state.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	feed, err := e.state.GetPriceFeed(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	marginBeforeBps, _, err := e.checkCommonPreconditions(pos, feed)
	if err != nil {
		return nil, err
	}

	liqSize := liquidationSize
	if half := pos.Size / 2; liqSize > half {
		liqSize = half
	}
	if liqSize == 0 {
		return nil, ErrInvalidLiquidationSize
	}

	pnlOnLiq := fixedpoint.RealizedPnL(liqSize, pos.EntryPrice, feed.Price, pos.IsLong)
	liqValue, err := fixedpoint.PositionValueChecked(liqSize, feed.Price)
	if err != nil {
		return nil, err
	}
	reward, err := fixedpoint.BpsOf(liqValue, e.rewardBps)
	if err != nil {
		return nil, err
	}
	equityAfterPnl, err := fixedpoint.ApplyPnL(pos.Collateral, pnlOnLiq)
	if err != nil {
		return nil, err
	}
	remaining := fixedpoint.SaturatingSubUint64(equityAfterPnl, reward)

	newPos := pos
	newPos.Collateral = remaining
	newPos.Size = pos.Size - liqSize

	marginAfterBps, _, err := fixedpoint.MarginRatioBps(newPos.Size, newPos.EntryPrice, newPos.Collateral, newPos.IsLong, feed.Price)
	if err != nil {
		return nil, err
	}

	if err := e.state.PutPosition(ctx, newPos); err != nil {
		return nil, err
	}
	e.metrics.RecordLiquidationReward(reward)

	return &LiquidationRecord{
		Owner:            pos.Owner,
		Liquidator:       liquidator,
		Symbol:           pos.Symbol,
		LiquidatedSize:   liqSize,
		LiquidationPrice: feed.Price,
		MarginBeforeBps:  marginBeforeBps,
		MarginAfterBps:   marginAfterBps,
		LiquidatorReward: reward,
		BadDebt:          0,
		Timestamp:        e.now(),
	}, nil
}

// LiquidateFull closes a position entirely, paying the liquidator reward out
// of remaining equity and routing any shortfall to the insurance fund as bad
// debt. This transition is terminal: the position is marked closed with
// zero size and collateral.
func (e *Engine) LiquidateFull(ctx context.Context, id position.ID, liquidator position.Owner) (*LiquidationRecord, error) {
	pos, err := e.state.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	feed, err := e.state.GetPriceFeed(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	marginBeforeBps, positionValue, err := e.checkCommonPreconditions(pos, feed)
	if err != nil {
		return nil, err
	}

	pnlFull := fixedpoint.RealizedPnL(pos.Size, pos.EntryPrice, feed.Price, pos.IsLong)
	equityAfterPnl, err := fixedpoint.ApplyPnL(pos.Collateral, pnlFull)
	if err != nil {
		return nil, err
	}
	positionValueChecked, err := fixedpoint.NarrowUint64(positionValue)
	if err != nil {
		return nil, err
	}
	reward, err := fixedpoint.BpsOf(positionValueChecked, e.rewardBps)
	if err != nil {
		return nil, err
	}

	var rewardPaid, badDebt uint64
	if equityAfterPnl >= reward {
		rewardPaid = reward
		badDebt = 0
	} else {
		rewardPaid = equityAfterPnl
		badDebt = reward - equityAfterPnl
	}

	fund, err := e.state.GetInsuranceFund(ctx)
	if err != nil {
		return nil, err
	}
	prevFund := fund
	if badDebt > 0 {
		covered := badDebt
		if fund.Balance < covered {
			covered = fund.Balance
		}
		fund.Balance = fixedpoint.SaturatingSubUint64(fund.Balance, covered)
		fund.TotalBadDebtCovered += covered
	}
	fund.recomputeUtilization()
	if err := e.state.PutInsuranceFund(ctx, fund); err != nil {
		return nil, err
	}

	closedPos := pos
	closedPos.Size = 0
	closedPos.Collateral = 0
	closedPos.Closed = true
	if err := e.state.PutPosition(ctx, closedPos); err != nil {
		// Undo the fund write so a failed instruction leaves no mutation.
		_ = e.state.PutInsuranceFund(ctx, prevFund)
		return nil, err
	}
	e.metrics.RecordLiquidationReward(rewardPaid)
	e.metrics.RecordBadDebt(badDebt, fund.Balance)

	return &LiquidationRecord{
		Owner:            pos.Owner,
		Liquidator:       liquidator,
		Symbol:           pos.Symbol,
		LiquidatedSize:   pos.Size,
		LiquidationPrice: feed.Price,
		MarginBeforeBps:  marginBeforeBps,
		MarginAfterBps:   0,
		LiquidatorReward: rewardPaid,
		BadDebt:          badDebt,
		Timestamp:        e.now(),
	}, nil
}
