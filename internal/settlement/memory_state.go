package settlement

import (
	"context"
	"sync"

	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
)

// MemoryState is an in-memory State implementation used by cmd/liquidatord's
// single-process simulator wiring and by standalone tooling that exercises
// the settlement engine without a real chain account store.
type MemoryState struct {
	mu        sync.Mutex
	positions map[position.ID]position.Position
	feeds     map[string]PriceFeed
	fund      InsuranceFund
}

// NewMemoryState builds a MemoryState seeded with the given insurance fund.
func NewMemoryState(fund InsuranceFund) *MemoryState {
	return &MemoryState{
		positions: make(map[position.ID]position.Position),
		feeds:     make(map[string]PriceFeed),
		fund:      fund,
	}
}

// PutPositionRecord seeds or overwrites a position, used by callers wiring
// up test/dev fixtures (e.g. a shared position.MemoryBook mirrored here).
func (s *MemoryState) PutPositionRecord(p position.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
}

// PutPriceFeed seeds or overwrites the authoritative price feed for symbol.
func (s *MemoryState) PutPriceFeed(symbol string, feed PriceFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[symbol] = feed
}

// GetPosition implements State.
func (s *MemoryState) GetPosition(ctx context.Context, id position.ID) (position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return position.Position{}, position.ErrUnknownPosition
	}
	return p, nil
}

// PutPosition implements State.
func (s *MemoryState) PutPosition(ctx context.Context, p position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

// GetPriceFeed implements State.
func (s *MemoryState) GetPriceFeed(ctx context.Context, symbol string) (PriceFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[symbol], nil
}

// GetInsuranceFund implements State.
func (s *MemoryState) GetInsuranceFund(ctx context.Context) (InsuranceFund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fund, nil
}

// PutInsuranceFund implements State.
func (s *MemoryState) PutInsuranceFund(ctx context.Context, fund InsuranceFund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fund = fund
	return nil
}
