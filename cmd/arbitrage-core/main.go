// Command arbitrage-core wires the connector, pipeline, detection and
// execution layers into a single running process: config load →
// observability → event bus → per-venue connectors → normalizer →
// scanner/detector → allocator → execution engine → risk supervisor.
// There is no HTTP surface here; control is the signal channel below and
// whatever command-channel API a caller builds on top of the risk
// supervisor and execution engine, per scope.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowarb/arbitrage-core/internal/allocator"
	"github.com/flowarb/arbitrage-core/internal/config"
	"github.com/flowarb/arbitrage-core/internal/detector"
	"github.com/flowarb/arbitrage-core/internal/events"
	"github.com/flowarb/arbitrage-core/internal/exchange"
	"github.com/flowarb/arbitrage-core/internal/exchange/binance"
	"github.com/flowarb/arbitrage-core/internal/execution"
	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/persistence"
	"github.com/flowarb/arbitrage-core/internal/pipeline"
	"github.com/flowarb/arbitrage-core/internal/risk"
	"github.com/flowarb/arbitrage-core/internal/scanner"
	"github.com/flowarb/arbitrage-core/internal/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the core's configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := observability.NewLogger(cfg.Observability)
	audit := observability.NewAuditLogger(logger)
	ctx := context.Background()

	tracing, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		logger.Error(ctx, "tracing init failed", err, nil)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: "dev",
		Namespace:      "arbitrage_core",
		Enabled:        cfg.Observability.MetricsEnabled,
	})
	if err != nil {
		logger.Error(ctx, "metrics init failed", err, nil)
		os.Exit(1)
	}
	// metrics.Registry is scraped by a collaborator-owned Prometheus
	// endpoint. The provider is initialized here, but this process records
	// nothing on its instruments.
	_ = metrics

	bus := events.NewBus(logger)
	symbols := pipeline.NewSymbolTable()
	normalizer := pipeline.NewNormalizer(bus, logger, symbols)

	var store *persistence.Store
	if cfg.Persistence.Enabled {
		store, err = persistence.Open(cfg.Persistence.DSN)
		if err != nil {
			logger.Error(ctx, "persistence open failed", err, nil)
			os.Exit(1)
		}
		defer store.Close()

		if cfg.Persistence.Cache.Enabled {
			cache, err := persistence.NewCache(cfg.Persistence.Cache.Addr, cfg.Persistence.Cache.Password, cfg.Persistence.Cache.DB, cfg.Persistence.Cache.TTL)
			if err != nil {
				logger.Error(ctx, "cache connect failed, continuing without it", err, nil)
			} else {
				store.SetCache(cache, logger)
				defer cache.Close()
			}
		}
	}

	clients := make(map[types.VenueID]exchange.ExchangeClient, len(cfg.Venues))
	fees := make(map[types.VenueID]types.FeeSchedule, len(cfg.Venues))
	fillRates := make(map[types.VenueID]decimal.Decimal, len(cfg.Venues))
	instrumentsByVenue := make(map[types.VenueID][]types.InstrumentID, len(cfg.Venues))

	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		venueID := types.VenueID(name)

		instruments := make([]types.InstrumentID, 0, len(vc.Instruments))
		for _, sym := range vc.Instruments {
			inst := types.InstrumentID(sym)
			instruments = append(instruments, inst)
			symbols.Register(venueID, strings.ReplaceAll(sym, "-", ""), inst)
		}
		instrumentsByVenue[venueID] = instruments

		client := binance.NewClient(logger, binance.Config{
			VenueID:   venueID,
			APIKey:    vc.APIKeyRef,
			APISecret: vc.APISecretRef,
			BaseURL:   vc.RESTBaseURL,
			WSBaseURL: vc.WSBaseURL,
			Policy: types.OrderPolicy{
				SupportsPostOnly: vc.SupportsPost,
				SupportsIOC:      vc.SupportsIOC,
				DefaultTIF:       types.TimeInForceGTC,
			},
			Fees: types.FeeSchedule{
				MakerBps: decimal.NewFromFloat(vc.MakerFeeBps),
				TakerBps: decimal.NewFromFloat(vc.TakerFeeBps),
			},
			OrderBudget:  vc.RateLimit.OrdersPerSecond,
			OrderBurst:   vc.RateLimit.OrdersBurst,
			WeightBudget: vc.RateLimit.WeightBudget,
			WeightWindow: time.Duration(vc.RateLimit.WindowSeconds) * time.Second,
		})

		clients[venueID] = client
		fees[venueID] = client.GetFeeSchedule()

		fillRate := vc.ExpectedFillRate
		if fillRate <= 0 {
			fillRate = 1.0
		}
		fillRates[venueID] = decimal.NewFromFloat(fillRate)
	}

	scan := scanner.NewScanner(logger, cfg.Scanner)
	detect := detector.NewDetector(logger, cfg.Detector, fees, fillRates)
	alloc := allocator.NewAllocator(logger, cfg.Allocator)
	accountEquity := decimal.NewFromFloat(cfg.Allocator.AccountEquityUSD)

	engine := execution.NewEngine(logger, bus, clients, cfg.Execution)
	supervisor := risk.NewSupervisor(logger, bus, cfg.Risk)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	for venueID, client := range clients {
		if err := client.Connect(runCtx); err != nil {
			logger.Error(ctx, "venue connect failed", err, map[string]interface{}{"venue": string(venueID)})
			continue
		}
		ticks, err := client.StreamTicks(runCtx, instrumentsByVenue[venueID])
		if err != nil {
			logger.Error(ctx, "venue tick stream failed", err, map[string]interface{}{"venue": string(venueID)})
			continue
		}
		go pumpTicks(runCtx, logger, normalizer, ticks)
	}

	go supervisor.Run(runCtx)
	supervisor.Start()
	audit.LogSystemEvent(ctx, "startup", "arbitrage-core")

	_, marketCh := bus.Subscribe(4096, events.DropOldest)
	go driveOpportunities(runCtx, logger, store, scan, detect, alloc, engine, supervisor, accountEquity, marketCh)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutdown signal received", nil)
	supervisor.Stop()
	cancelRun()
	supervisor.Shutdown()

	for venueID, client := range clients {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Warn(ctx, "venue disconnect failed", map[string]interface{}{"venue": string(venueID), "error": err.Error()})
		}
		cancel()
	}
	audit.LogSystemEvent(ctx, "shutdown", "arbitrage-core")
}

// pumpTicks feeds one connector's raw tick stream through the normalizer,
// which handles sequencing, crossed-book rejection and reorder buffering
// before publishing onto the bus itself.
func pumpTicks(ctx context.Context, logger *observability.Logger, normalizer *pipeline.Normalizer, ticks <-chan types.MarketTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if err := normalizer.Normalize(ctx, tick); err != nil {
				logger.Warn(ctx, "tick normalization rejected", map[string]interface{}{"venue": string(tick.Venue), "instrument": string(tick.Instrument), "error": err.Error()})
			}
		}
	}
}

// driveOpportunities is the coordinating loop: every normalized market
// tick feeds the volatility scanner, then the detector, then (for any
// opportunity surfaced) the allocator and execution engine, gated by the
// risk supervisor. It runs off a channel subscriber rather than
// bus.SubscribeFunc so a slow execution attempt never blocks Publish for
// other subscribers. Envelopes are read in publish order, but under the
// DropOldest policy this consumer loses the oldest queued ticks when it
// falls behind, and execution attempts run on their own goroutines.
func driveOpportunities(
	ctx context.Context,
	logger *observability.Logger,
	store *persistence.Store,
	scan *scanner.Scanner,
	detect *detector.Detector,
	alloc *allocator.Allocator,
	engine *execution.Engine,
	supervisor *risk.Supervisor,
	accountEquity decimal.Decimal,
	marketCh <-chan events.Envelope,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-marketCh:
			if !ok {
				return
			}
			if env.Kind != events.KindMarket || env.Market == nil {
				continue
			}
			tick := *env.Market

			if score, ok := scan.Observe(tick); ok {
				detect.UpdateVolatility(score)
			}

			for _, opp := range detect.OnTick(tick) {
				if store != nil {
					if err := store.SaveOpportunity(ctx, opp); err != nil {
						logger.Warn(ctx, "save opportunity failed", map[string]interface{}{"id": opp.ID.String(), "error": err.Error()})
					}
				}
				go attemptExecution(ctx, logger, store, alloc, engine, supervisor, accountEquity, opp)
			}
		}
	}
}

func attemptExecution(
	ctx context.Context,
	logger *observability.Logger,
	store *persistence.Store,
	alloc *allocator.Allocator,
	engine *execution.Engine,
	supervisor *risk.Supervisor,
	accountEquity decimal.Decimal,
	opp types.Opportunity,
) {
	trade, ok := alloc.Allocate(opp, accountEquity)
	if !ok {
		return
	}

	result, err := engine.Execute(ctx, opp, trade, supervisor)
	if err != nil {
		logger.Warn(ctx, "execution attempt failed", map[string]interface{}{"opportunity_id": opp.ID.String(), "error": err.Error()})
		return
	}

	won := result.RealizedProfit.IsPositive()
	alloc.RecordExposure(opp.Instrument, result.ExecutedQty.Mul(result.BuyOrder.AvgFillPrice))
	alloc.RecordOutcome(opp.Instrument, won)
	supervisor.ReportExecution(opp.Instrument, result.RealizedProfit)
	supervisor.ReportExposure(opp.Instrument, result.ExecutedQty)

	if store != nil {
		if err := store.SaveExecution(ctx, result); err != nil {
			logger.Warn(ctx, "save execution failed", map[string]interface{}{"opportunity_id": opp.ID.String(), "error": err.Error()})
		}
		if err := store.SaveOrder(ctx, result.BuyOrder); err != nil {
			logger.Warn(ctx, "save buy order failed", map[string]interface{}{"client_id": result.BuyOrder.ClientID.String(), "error": err.Error()})
		}
		if err := store.SaveOrder(ctx, result.SellOrder); err != nil {
			logger.Warn(ctx, "save sell order failed", map[string]interface{}{"client_id": result.SellOrder.ClientID.String(), "error": err.Error()})
		}
	}
}
