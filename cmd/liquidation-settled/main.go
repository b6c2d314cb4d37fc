// Command liquidation-settled runs the settlement state machine standalone
// against a single JSON-described instruction, without a chain or daemon
// attached. It exists to integration-test the on-chain half of the engine
// (liquidate_partial / liquidate_full, §6) from the command line, modeled on
// nhbchain's cmd/nhbctl one-shot subcommand shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
	"github.com/Divas-Sagta/goquant-liquidation/internal/settlement"
)

const (
	instructionPartial = "liquidate_partial"
	instructionFull    = "liquidate_full"
)

// instructionFile is the JSON document describing one settlement
// instruction plus the account state it runs against. Field names mirror
// spec.md §3's logical account layouts so a hand-written fixture reads as a
// miniature chain snapshot.
type instructionFile struct {
	Instruction     string              `json:"instruction"`
	Liquidator      string              `json:"liquidator"`
	LiquidationSize uint64              `json:"liquidation_size"`
	Position        instructionPosition `json:"position"`
	PriceFeed       instructionFeed     `json:"price_feed"`
	InsuranceFund   instructionFund     `json:"insurance_fund"`
}

type instructionPosition struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Symbol     string `json:"symbol"`
	Size       uint64 `json:"size"`
	IsLong     bool   `json:"is_long"`
	EntryPrice uint64 `json:"entry_price"`
	Collateral uint64 `json:"collateral"`
	Leverage   uint16 `json:"leverage"`
}

type instructionFeed struct {
	Price           uint64 `json:"price"`
	LastUpdatedUnix int64  `json:"last_updated_unix"`
}

type instructionFund struct {
	Balance uint64 `json:"balance"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("instruction", "", "path to a JSON instruction file (required)")
	flag.Parse()
	if *path == "" {
		return fmt.Errorf("liquidation-settled: -instruction is required")
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read instruction file: %w", err)
	}
	var in instructionFile
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse instruction file: %w", err)
	}

	id := position.ID(in.Position.ID)
	if id == "" {
		id = position.NewID()
	}
	pos := position.Position{
		ID:         id,
		Owner:      position.Owner(in.Position.Owner),
		Symbol:     in.Position.Symbol,
		Size:       in.Position.Size,
		IsLong:     in.Position.IsLong,
		EntryPrice: in.Position.EntryPrice,
		Collateral: in.Position.Collateral,
		Leverage:   in.Position.Leverage,
	}

	state := settlement.NewMemoryState(settlement.InsuranceFund{Balance: in.InsuranceFund.Balance})
	state.PutPositionRecord(pos)
	state.PutPriceFeed(pos.Symbol, settlement.PriceFeed{
		Price:       in.PriceFeed.Price,
		LastUpdated: time.Unix(in.PriceFeed.LastUpdatedUnix, 0),
	})

	engine := settlement.NewEngine(state)

	ctx := context.Background()
	liquidator := position.Owner(in.Liquidator)

	var record *settlement.LiquidationRecord
	switch in.Instruction {
	case instructionPartial:
		record, err = engine.LiquidatePartial(ctx, pos.ID, liquidator, in.LiquidationSize)
	case instructionFull:
		record, err = engine.LiquidateFull(ctx, pos.ID, liquidator)
	default:
		return fmt.Errorf("unknown instruction %q (want %q or %q)", in.Instruction, instructionPartial, instructionFull)
	}
	if err != nil {
		return fmt.Errorf("settlement rejected instruction: %w", err)
	}

	fund, err := state.GetInsuranceFund(ctx)
	if err != nil {
		return fmt.Errorf("read insurance fund: %w", err)
	}
	finalPos, err := state.GetPosition(ctx, pos.ID)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	out := struct {
		Record        *settlement.LiquidationRecord `json:"record"`
		Position      position.Position             `json:"position_after"`
		InsuranceFund settlement.InsuranceFund       `json:"insurance_fund_after"`
	}{Record: record, Position: finalPos, InsuranceFund: fund}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
