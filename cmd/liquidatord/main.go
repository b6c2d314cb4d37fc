// Command liquidatord runs the off-chain monitoring loop: it scans open
// positions, prices them through the oracle cache, enqueues violators onto
// the priority queue, and drains the queue into a settlement submitter. In
// its default single-process "simulator" wiring the submitter calls
// straight into an in-process settlement.Engine instead of a real chain. In
// that wiring the oracle upstream returns an error for every symbol and the
// engine's in-memory state holds no positions or price feeds, so no position
// is priced, enqueued or settled. Modeled on nhbchain's
// services/payoutd/main.go daemon shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Divas-Sagta/goquant-liquidation/config"
	"github.com/Divas-Sagta/goquant-liquidation/internal/liqqueue"
	"github.com/Divas-Sagta/goquant-liquidation/internal/monitor"
	"github.com/Divas-Sagta/goquant-liquidation/internal/oracle"
	"github.com/Divas-Sagta/goquant-liquidation/internal/position"
	"github.com/Divas-Sagta/goquant-liquidation/internal/settlement"
	"github.com/Divas-Sagta/goquant-liquidation/internal/statussvc"
	"github.com/Divas-Sagta/goquant-liquidation/internal/submitter"
	"github.com/Divas-Sagta/goquant-liquidation/observability/logging"
	"github.com/Divas-Sagta/goquant-liquidation/observability/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/liquidatord.toml", "path to liquidatord configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LIQUIDATORD_ENV"))
	log := logging.Setup("liquidatord", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	book := position.NewMemoryBook()
	seedDevPositions(book)

	upstream := oracle.UpstreamFunc(func(ctx context.Context, symbol string) (uint64, error) {
		return 0, fmt.Errorf("oracle: %s has no configured upstream in simulator mode", symbol)
	})
	priceCache := oracle.NewCache(upstream, cfg.FreshnessWindow.Duration)

	queue := liqqueue.NewQueue(cfg.Cooldown.Duration, liqqueue.WithCapacity(cfg.QueueCapacity))

	settlementState := settlement.NewMemoryState(settlement.InsuranceFund{Balance: cfg.InsuranceSeed})
	metricsReg := metrics.Liquidatord()
	engine := settlement.NewEngine(settlementState,
		settlement.WithRewardBps(cfg.LiquidatorRewardBps),
		settlement.WithMaxStaleness(cfg.MaxOracleStale.Duration),
		settlement.WithMetrics(metricsReg),
	)
	direct := submitter.NewDirect(engine, nil)

	loop := monitor.NewLoop(book, priceCache, queue, direct,
		monitor.WithPeriod(cfg.TickPeriod.Duration),
		monitor.WithLogger(log),
		monitor.WithMetrics(metricsReg),
	)

	status := statussvc.New(queue)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      status.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		log.Info("liquidatord listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	go func() {
		errs <- loop.Run(stopCtx)
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}

// seedDevPositions populates the in-memory position book with one
// representative position so the daemon has something to evaluate when run
// standalone without a real position source wired in. Not used by tests.
func seedDevPositions(book *position.MemoryBook) {
	book.Put(position.Position{
		ID: position.NewID(), Owner: "dev-owner", Symbol: "BTC-PERP",
		Size: 1_000_000, IsLong: true,
		EntryPrice: 60_000_000_000, Collateral: 3_000_000_000, Leverage: 20,
	})
}
