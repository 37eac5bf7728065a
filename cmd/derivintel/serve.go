package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/derivintel/internal/alertdispatch"
	"github.com/sawpanic/derivintel/internal/cache"
	"github.com/sawpanic/derivintel/internal/cascade"
	"github.com/sawpanic/derivintel/internal/httpapi"
	"github.com/sawpanic/derivintel/internal/infrastructure/db"
	"github.com/sawpanic/derivintel/internal/liquidation"
	logprogress "github.com/sawpanic/derivintel/internal/log"
	"github.com/sawpanic/derivintel/internal/metrics"
	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/oiagg"
	"github.com/sawpanic/derivintel/internal/persistence"
	"github.com/sawpanic/derivintel/internal/provider"
	"github.com/sawpanic/derivintel/internal/threshold"
)

// startupSteps names the wiring stages runServe walks through, in order,
// for the optional startup step logger.
var startupSteps = []string{
	"Providers", "Thresholds", "Aggregator", "Persistence", "Alerting", "Cascade", "OI Poller", "HTTP Server",
}

func runServe(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	symbols, _ := cmd.Flags().GetStringSlice("symbols")
	showProgress, _ := cmd.Flags().GetBool("progress")

	var stepLogger *logprogress.StepLogger
	if showProgress {
		stepLogger = logprogress.NewStepLogger("derivintel startup", startupSteps)
	}
	step := func(name string) {
		if stepLogger != nil {
			stepLogger.StartStep(name)
			stepLogger.CompleteStep()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsReg := metrics.NewRegistry()

	providersCfg := provider.LoadProvidersConfigOrDefault(envOr("CONFIG_PROVIDERS_PATH", "config/providers.yaml"))
	registry := provider.NewConfiguredRegistry(symbols, providersCfg)
	step("Providers")

	thresholdCache := cache.NewAuto()
	thresholds := threshold.New(thresholdCache)
	reloadInterval := time.Duration(envIntSeconds("CONFIG_RELOAD_INTERVAL_S", int(threshold.DefaultReloadInterval.Seconds()))) * time.Second
	reloader := threshold.NewReloader(thresholds, envOr("CONFIG_THRESHOLDS_PATH", "config/thresholds.json"), reloadInterval)
	go reloader.Run(ctx)
	step("Thresholds")

	aggregator := oiagg.New(registry)
	step("Aggregator")

	repo := wireRepository()
	step("Persistence")

	var dispatcher *alertdispatch.Dispatcher
	if featureEnabled("ALERTS") {
		dispatcher = alertdispatch.New(newLogSink(), metricsReg)
		go dispatcher.Run(ctx)
	}
	step("Alerting")

	var detector *cascade.Detector
	if featureEnabled("CASCADE_DETECTOR") {
		detector = cascade.New(thresholds)
		ingestor := wireLiquidationIngestion(ctx, registry, symbols, metricsReg, repo)
		go detector.Consume(ctx, ingestor.Subscribe())
		go runCascadeTickLoop(ctx, detector)
		go relayCascadeSignals(ctx, detector, dispatcher, metricsReg)
	}
	step("Cascade")

	if featureEnabled("OI_POLLER") {
		go runOIPollLoop(ctx, aggregator, symbols, detector, dispatcher, metricsReg, repo)
	}
	step("OI Poller")

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:           host,
		Port:           port,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 8 * time.Second,
	}, registry, aggregator, thresholds, metricsReg)
	step("HTTP Server")
	if stepLogger != nil {
		stepLogger.Finish()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	log.Info().
		Str("addr", fmt.Sprintf("%s:%d", host, port)).
		Strs("symbols", symbols).
		Msg("derivintel serving")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server error: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func wireRepository() *persistence.Repository {
	cfg := db.DefaultConfig()
	cfg.Enabled = envBool("ENABLE_POSTGRES", false)
	cfg.DSN = envOr("POSTGRES_DSN", "")

	mgr, err := db.NewManager(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("postgres sink unavailable, continuing without persistence")
		return nil
	}
	if !mgr.IsEnabled() {
		return nil
	}
	return mgr.Repository()
}

// wireLiquidationIngestion starts one Ingestor.Run goroutine per venue
// named in LIQUIDATION_EXCHANGES (or every registered provider if unset),
// applying the HYPERLIQUID_SYMBOLS filter when present.
func wireLiquidationIngestion(ctx context.Context, registry *provider.Registry, symbols []string, metricsReg *metrics.Registry, repo *persistence.Repository) *liquidation.Ingestor {
	ingestor := liquidation.NewIngestor(liquidation.DefaultFloorUSD)

	venues := envList("LIQUIDATION_EXCHANGES", nil)
	if len(venues) == 0 {
		for _, p := range registry.All() {
			venues = append(venues, p.Name())
		}
	}

	hlSymbols := envList("HYPERLIQUID_SYMBOLS", nil)

	for _, venue := range venues {
		p, ok := registry.Get(venue)
		if !ok {
			log.Warn().Str("venue", venue).Msg("LIQUIDATION_EXCHANGES names an unregistered venue")
			continue
		}
		venueSymbols := symbols
		if venue == "hyperliquid" && len(hlSymbols) > 0 {
			venueSymbols = hlSymbols
		}
		go ingestor.Run(ctx, p, venueSymbols)
	}

	if repo != nil && repo.Liquidations != nil {
		go persistLiquidations(ctx, ingestor, repo)
	}

	return ingestor
}

// venueByExchangeID mirrors the fixed exchange_id each provider adapter
// stamps onto its CompactLiquidation events (binance=0 .. hyperliquid=5).
var venueByExchangeID = map[uint8]string{
	0: "binance", 1: "bybit", 2: "okx", 3: "gateio", 4: "bitget", 5: "hyperliquid",
}

// persistLiquidations mirrors the floor-filtered stream into the
// optional Postgres sink. Subscribe() only exposes the compact wire
// record, not the per-symbol fixed-point scale used to recover
// price/qty, so those fields are left at their zero value here; symbol
// and venue are recovered from the process-local ID tables the
// providers already populate.
func persistLiquidations(ctx context.Context, ingestor *liquidation.Ingestor, repo *persistence.Repository) {
	for ev := range ingestor.Subscribe() {
		symbol, _ := model.SymbolForID(ev.SymbolID)
		venue := venueByExchangeID[ev.ExchangeID]

		rec := persistence.LiquidationRecord{
			Timestamp: time.UnixMilli(int64(ev.TsMs)).UTC(),
			Symbol:    symbol,
			Venue:     venue,
			Side:      ev.Side.String(),
			Synthetic: ev.TsSynthetic,
		}
		if err := repo.Liquidations.Insert(ctx, rec); err != nil {
			log.Debug().Err(err).Msg("liquidation persistence insert failed")
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func runCascadeTickLoop(ctx context.Context, detector *cascade.Detector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			detector.Tick(now)
		}
	}
}

func relayCascadeSignals(ctx context.Context, detector *cascade.Detector, dispatcher *alertdispatch.Dispatcher, metricsReg *metrics.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-detector.Signals():
			if !ok {
				return
			}
			metricsReg.CascadeSignals.WithLabelValues(sig.Symbol, sig.Severity.String()).Inc()
			if dispatcher == nil {
				continue
			}
			dispatcher.Submit(model.KindCascade, sig.Symbol, sig.Severity, map[string]interface{}{
				"probability":   sig.Probability,
				"easing":        sig.Easing,
				"leading_venue": sig.LeadingVenue,
				"correlation":   sig.Correlation,
			}, 0, 0)
		}
	}
}

// runOIPollLoop periodically aggregates OI for each watched symbol,
// feeding the percent change into the cascade detector's OI pressure
// term and raising an alert on discrepancy flags.
func runOIPollLoop(ctx context.Context, aggregator *oiagg.Aggregator, symbols []string, detector *cascade.Detector, dispatcher *alertdispatch.Dispatcher, metricsReg *metrics.Registry, repo *persistence.Repository) {
	prevGrand := make(map[string]float64, len(symbols))
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				snap := aggregator.Aggregate(ctx, symbol)

				if prev, ok := prevGrand[symbol]; ok && prev > 0 && detector != nil {
					pctChange := (snap.Totals.Grand - prev) / prev
					detector.UpdateOI(symbol, pctChange)
				}
				prevGrand[symbol] = snap.Totals.Grand

				for _, flag := range snap.Discrepancy.Flags {
					metricsReg.OIDiscrepancies.WithLabelValues(symbol, string(flag)).Inc()
				}

				if len(snap.Discrepancy.Flags) > 0 && dispatcher != nil {
					dispatcher.Submit(model.KindOIDiscrepancy, symbol, model.SeverityWatch, map[string]interface{}{
						"flags":          snap.Discrepancy.Flags,
						"dominant_venue": snap.Discrepancy.DominantVenue,
						"dominant_share": snap.Discrepancy.DominantShare,
					}, snap.Totals.Grand, 0)
				}

				if repo != nil && repo.OISnapshots != nil {
					persistOISnapshot(ctx, repo, snap)
				}
			}
		}
	}
}

func persistOISnapshot(ctx context.Context, repo *persistence.Repository, snap model.ValidatedOISnapshot) {
	for _, m := range snap.TopMarkets {
		rec := persistence.OISnapshotRecord{
			Timestamp:   m.CapturedAt,
			Symbol:      m.Symbol,
			Venue:       m.Exchange,
			MarketType:  m.Market.String(),
			OITokens:    m.OITokens,
			OIUSD:       m.OIUSD,
			FundingRate: m.FundingRate,
			Status:      "ok",
		}
		if err := repo.OISnapshots.Insert(ctx, rec); err != nil {
			log.Debug().Err(err).Msg("oi snapshot persistence insert failed")
		}
	}
}

// logSink is the default alert sink: structured log lines. Real
// deployments wire in a messaging channel implementing alertdispatch.Sink.
type logSink struct{}

func newLogSink() *logSink { return &logSink{} }

func (logSink) Deliver(ctx context.Context, env model.AlertEnvelope) error {
	log.Info().
		Str("alert_id", env.ID).
		Str("kind", string(env.Kind)).
		Str("symbol", env.Symbol).
		Str("severity", env.Severity.String()).
		Interface("payload", env.Payload).
		Msg("alert dispatched")
	return nil
}
