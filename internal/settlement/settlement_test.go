package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Divas-Sagta/goquant-liquidation/internal/fixedpoint"
	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
)

// memoryState is a minimal in-memory State used only by this package's
// tests; it is deliberately not exported since the settlement engine only
// depends on the State interface.
type memoryState struct {
	mu        sync.Mutex
	positions map[position.ID]position.Position
	feeds     map[string]PriceFeed
	fund      InsuranceFund
}

func newMemoryState() *memoryState {
	return &memoryState{
		positions: make(map[position.ID]position.Position),
		feeds:     make(map[string]PriceFeed),
	}
}

func (s *memoryState) GetPosition(ctx context.Context, id position.ID) (position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return position.Position{}, position.ErrUnknownPosition
	}
	return p, nil
}

func (s *memoryState) PutPosition(ctx context.Context, p position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *memoryState) GetPriceFeed(ctx context.Context, symbol string) (PriceFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[symbol], nil
}

func (s *memoryState) PutInsuranceFund(ctx context.Context, fund InsuranceFund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fund = fund
	return nil
}

func (s *memoryState) GetInsuranceFund(ctx context.Context) (InsuranceFund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fund, nil
}

// S6: full liquidation with insurance fund coverage of bad debt.
func TestLiquidateFullBadDebtScenarioS6(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{
		ID: "p1", Owner: "alice", Symbol: "BTC-PERP",
		Size: 1 * fixedpoint.Scale, IsLong: true,
		EntryPrice: 60_000 * fixedpoint.Scale, Collateral: 50,
		Leverage: 500,
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 58_000 * fixedpoint.Scale, LastUpdated: now}
	state.fund = InsuranceFund{Balance: 10_000 * fixedpoint.Scale}

	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	rec, err := engine.LiquidateFull(context.Background(), "p1", "bob")
	if err != nil {
		t.Fatalf("LiquidateFull: %v", err)
	}

	pos, _ := state.GetPosition(context.Background(), "p1")
	if !pos.Closed || pos.Size != 0 || pos.Collateral != 0 {
		t.Fatalf("position not fully closed: %+v", pos)
	}
	if rec.MarginAfterBps != 0 {
		t.Fatalf("margin_after_bps = %d, want 0", rec.MarginAfterBps)
	}
	if rec.BadDebt == 0 {
		t.Fatalf("expected bad debt to be charged, got 0")
	}

	fund, _ := state.GetInsuranceFund(context.Background())
	wantCovered := rec.BadDebt
	if wantCovered > 10_000*fixedpoint.Scale {
		wantCovered = 10_000 * fixedpoint.Scale
	}
	if fund.Balance != 10_000*fixedpoint.Scale-wantCovered {
		t.Fatalf("insurance balance = %d, want %d", fund.Balance, 10_000*fixedpoint.Scale-wantCovered)
	}
	if fund.TotalBadDebtCovered != wantCovered {
		t.Fatalf("total bad debt covered = %d, want %d", fund.TotalBadDebtCovered, wantCovered)
	}
}

func TestLiquidateFullOnClosedPositionFails(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{ID: "p1", Symbol: "BTC-PERP", Closed: true}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 1, LastUpdated: now}
	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	if _, err := engine.LiquidateFull(context.Background(), "p1", "bob"); err != ErrPositionClosed {
		t.Fatalf("expected ErrPositionClosed, got %v", err)
	}
	if _, err := engine.LiquidatePartial(context.Background(), "p1", "bob", 1); err != ErrPositionClosed {
		t.Fatalf("expected ErrPositionClosed, got %v", err)
	}
}

func TestLiquidateStaleOracleRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{
		ID: "p1", Symbol: "BTC-PERP", Size: fixedpoint.Scale,
		EntryPrice: 10 * fixedpoint.Scale, Collateral: fixedpoint.Scale,
		IsLong: true, Leverage: 10,
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 1, LastUpdated: now.Add(-time.Hour)}
	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	if _, err := engine.LiquidateFull(context.Background(), "p1", "bob"); err != ErrStaleOraclePrice {
		t.Fatalf("expected ErrStaleOraclePrice, got %v", err)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{
		ID: "p1", Symbol: "BTC-PERP", Size: fixedpoint.Scale,
		EntryPrice: 10 * fixedpoint.Scale, Collateral: 10 * fixedpoint.Scale,
		IsLong: true, Leverage: 10,
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 10 * fixedpoint.Scale, LastUpdated: now}
	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	if _, err := engine.LiquidateFull(context.Background(), "p1", "bob"); err != ErrPositionHealthy {
		t.Fatalf("expected ErrPositionHealthy, got %v", err)
	}
}

func TestLiquidatePartialCapsAtHalfSize(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{
		ID: "p1", Owner: "alice", Symbol: "BTC-PERP",
		Size: 10 * fixedpoint.Scale, IsLong: true,
		EntryPrice: 100 * fixedpoint.Scale, Collateral: 1 * fixedpoint.Scale,
		Leverage: 10,
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 90 * fixedpoint.Scale, LastUpdated: now}
	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	rec, err := engine.LiquidatePartial(context.Background(), "p1", "bob", 9*fixedpoint.Scale)
	if err != nil {
		t.Fatalf("LiquidatePartial: %v", err)
	}
	if rec.LiquidatedSize != 5*fixedpoint.Scale {
		t.Fatalf("liquidated size = %d, want half of original size (%d)", rec.LiquidatedSize, 5*fixedpoint.Scale)
	}

	pos, _ := state.GetPosition(context.Background(), "p1")
	if pos.Closed {
		t.Fatalf("partial liquidation must not close the position")
	}
	if pos.Size != 5*fixedpoint.Scale {
		t.Fatalf("remaining size = %d, want %d", pos.Size, 5*fixedpoint.Scale)
	}
}

func TestLiquidatePartialZeroSizeRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{
		ID: "p1", Symbol: "BTC-PERP", Size: 1, IsLong: true,
		EntryPrice: 100 * fixedpoint.Scale, Collateral: 1, Leverage: 10,
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 90 * fixedpoint.Scale, LastUpdated: now}
	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	// size=1 -> half=0, so any requested size caps to zero.
	if _, err := engine.LiquidatePartial(context.Background(), "p1", "bob", 1); err != ErrInvalidLiquidationSize {
		t.Fatalf("expected ErrInvalidLiquidationSize, got %v", err)
	}
}

// Invariant 4: insurance balance never increases and total bad debt covered
// never decreases across repeated full liquidations.
func TestInsuranceFundMonotonicity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.fund = InsuranceFund{Balance: 100 * fixedpoint.Scale}
	engine := NewEngine(state)
	engine.nowFn = func() time.Time { return now }

	ids := []position.ID{"p1", "p2", "p3"}
	for _, id := range ids {
		state.positions[id] = position.Position{
			ID: id, Symbol: "BTC-PERP", Size: fixedpoint.Scale, IsLong: true,
			EntryPrice: 100 * fixedpoint.Scale, Collateral: 0, Leverage: 10,
		}
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 90 * fixedpoint.Scale, LastUpdated: now}

	var prevBalance, prevCovered uint64 = 100 * fixedpoint.Scale, 0
	for _, id := range ids {
		if _, err := engine.LiquidateFull(context.Background(), id, "bob"); err != nil {
			t.Fatalf("LiquidateFull(%s): %v", id, err)
		}
		fund, _ := state.GetInsuranceFund(context.Background())
		if fund.Balance > prevBalance {
			t.Fatalf("insurance balance increased: %d > %d", fund.Balance, prevBalance)
		}
		if fund.TotalBadDebtCovered < prevCovered {
			t.Fatalf("total bad debt covered decreased: %d < %d", fund.TotalBadDebtCovered, prevCovered)
		}
		prevBalance, prevCovered = fund.Balance, fund.TotalBadDebtCovered
	}
}

type recordingMetrics struct {
	rewards  []uint64
	badDebts []uint64
	balances []uint64
}

func (m *recordingMetrics) RecordLiquidationReward(reward uint64) {
	m.rewards = append(m.rewards, reward)
}

func (m *recordingMetrics) RecordBadDebt(badDebt, insuranceBalance uint64) {
	m.badDebts = append(m.badDebts, badDebt)
	m.balances = append(m.balances, insuranceBalance)
}

func TestLiquidateFullRecordsMetrics(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := newMemoryState()
	state.positions["p1"] = position.Position{
		ID: "p1", Owner: "alice", Symbol: "BTC-PERP",
		Size: 1 * fixedpoint.Scale, IsLong: true,
		EntryPrice: 60_000 * fixedpoint.Scale, Collateral: 50,
		Leverage: 500,
	}
	state.feeds["BTC-PERP"] = PriceFeed{Price: 58_000 * fixedpoint.Scale, LastUpdated: now}
	state.fund = InsuranceFund{Balance: 10_000 * fixedpoint.Scale}

	m := &recordingMetrics{}
	engine := NewEngine(state, WithMetrics(m))
	engine.nowFn = func() time.Time { return now }

	rec, err := engine.LiquidateFull(context.Background(), "p1", "bob")
	if err != nil {
		t.Fatalf("LiquidateFull: %v", err)
	}

	if len(m.rewards) != 1 || m.rewards[0] != rec.LiquidatorReward {
		t.Fatalf("recorded rewards = %v, want [%d]", m.rewards, rec.LiquidatorReward)
	}
	if len(m.badDebts) != 1 || m.badDebts[0] != rec.BadDebt {
		t.Fatalf("recorded bad debt = %v, want [%d]", m.badDebts, rec.BadDebt)
	}
	fund, _ := state.GetInsuranceFund(context.Background())
	if len(m.balances) != 1 || m.balances[0] != fund.Balance {
		t.Fatalf("recorded insurance balance = %v, want [%d]", m.balances, fund.Balance)
	}
}
