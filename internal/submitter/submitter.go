// Package submitter defines the boundary between the monitor loop and the
// component that actually executes a liquidation instruction (on-chain
// submission in production; the in-process settlement engine in the
// reference single-process wiring). The monitor only depends on the
// Submitter interface.
package submitter

import (
	"context"

	"github.com/Divas-Sagta/goquant-liquidation/internal/liqqueue"
	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
	"github.com/Divas-Sagta/goquant-liquidation/internal/settlement"
)

// Submitter executes a popped liquidation candidate and returns the
// resulting event, or an error if the attempt failed (e.g. the oracle moved
// and the position recovered, or the submission transport failed).
// Individual submission errors are logged by the caller and do not abort
// the monitor tick (spec.md §4.5 step 5).
type Submitter interface {
	Submit(ctx context.Context, candidate liqqueue.Candidate) (*settlement.LiquidationRecord, error)
}

// Direct is the in-process adapter that calls straight into a
// settlement.Engine, used when liquidatord runs in single-process
// "simulator" mode without a real chain to submit transactions to. It always
// attempts a full liquidation; a partial-liquidation policy is a natural
// extension left to a real submitter, since deciding the partial size is an
// external (e.g. risk-sizing) concern spec.md leaves unspecified.
type Direct struct {
	Engine     *settlement.Engine
	Liquidator func(candidate liqqueue.Candidate) string
}

// NewDirect builds a Direct submitter over engine. If liquidator is nil, the
// submitting principal defaults to the fixed string "liquidatord".
func NewDirect(engine *settlement.Engine, liquidator func(liqqueue.Candidate) string) *Direct {
	if liquidator == nil {
		liquidator = func(liqqueue.Candidate) string { return "liquidatord" }
	}
	return &Direct{Engine: engine, Liquidator: liquidator}
}

// Submit implements Submitter by invoking LiquidateFull against the engine's
// backing state. The engine re-verifies every precondition itself; a
// recovered or already-closed position simply surfaces its settlement error.
func (d *Direct) Submit(ctx context.Context, candidate liqqueue.Candidate) (*settlement.LiquidationRecord, error) {
	liquidatorID := d.Liquidator(candidate)
	return d.Engine.LiquidateFull(ctx, candidate.Position.ID, position.Owner(liquidatorID))
}
