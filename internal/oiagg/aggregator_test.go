package oiagg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/provider"
)

type fakeProvider struct {
	name  string
	delay time.Duration
	res   model.ExchangeOIResult
	err   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return model.ExchangeOIResult{}, ctx.Err()
	}
	return f.res, f.err
}

func (f *fakeProvider) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	return nil, &provider.ErrUnsupported{Venue: f.name, Capability: "liquidations"}
}

func (f *fakeProvider) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return nil, nil
}

func (f *fakeProvider) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return nil, nil
}

func (f *fakeProvider) Health(ctx context.Context) provider.ProviderHealth {
	return provider.ProviderHealth{Venue: f.name, Healthy: true}
}

func TestAggregate_FoldsTotalsAcrossExchanges(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeProvider{name: "binance", res: model.ExchangeOIResult{
		Exchange: "binance",
		Status:   model.StatusOK,
		Markets: []model.MarketOI{
			{Exchange: "binance", Symbol: "BTC", Market: model.USDTLinear, OIUSD: 600},
		},
		TotalUSD: 600,
	}})
	reg.Register(&fakeProvider{name: "bybit", res: model.ExchangeOIResult{
		Exchange: "bybit",
		Status:   model.StatusOK,
		Markets: []model.MarketOI{
			{Exchange: "bybit", Symbol: "BTC", Market: model.USDTLinear, OIUSD: 400},
		},
		TotalUSD: 400,
	}})

	agg := New(reg)
	snap := agg.Aggregate(context.Background(), "BTC")

	assert.Equal(t, 2, snap.ExchangeCount)
	assert.Equal(t, 1000.0, snap.Totals.USDTLinear)
	assert.Equal(t, 1000.0, snap.Totals.Grand)
	require.Len(t, snap.TopMarkets, 2)
	assert.Equal(t, "binance", snap.TopMarkets[0].Exchange)
}

func TestAggregate_SlowProviderTimesOutWithoutBlockingOthers(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&fakeProvider{name: "binance", res: model.ExchangeOIResult{
		Exchange: "binance",
		Status:   model.StatusOK,
		Markets:  []model.MarketOI{{Exchange: "binance", Symbol: "BTC", Market: model.USDTLinear, OIUSD: 100}},
	}})
	reg.Register(&fakeProvider{name: "hyperliquid", delay: 200 * time.Millisecond})

	agg := New(reg).WithDeadline(20 * time.Millisecond)
	start := time.Now()
	snap := agg.Aggregate(context.Background(), "BTC")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, 1, snap.ExchangeCount)
	assert.NotEmpty(t, snap.ErrorSummary)
}

func TestDiscrepancyReport_FlagsDominance(t *testing.T) {
	markets := []model.MarketOI{
		{Exchange: "binance", Market: model.USDTLinear, OIUSD: 900},
		{Exchange: "bybit", Market: model.USDTLinear, OIUSD: 100},
	}
	report := discrepancyReport(markets, 1000)
	assert.Contains(t, report.Flags, model.FlagExchangeDominance)
	assert.Equal(t, "binance", report.DominantVenue)
}

func TestDiscrepancyReport_FlagsCrossExchangeSkew(t *testing.T) {
	markets := []model.MarketOI{
		{Exchange: "binance", Market: model.USDTLinear, OIUSD: 500},
		{Exchange: "bybit", Market: model.USDTLinear, OIUSD: 300},
		{Exchange: "okx", Market: model.USDTLinear, OIUSD: 200},
	}
	report := discrepancyReport(markets, 1000)
	assert.Contains(t, report.Flags, model.FlagCrossExchangeSkew)
}

func TestDiscrepancyReport_NoFlagsWhenBalanced(t *testing.T) {
	markets := []model.MarketOI{
		{Exchange: "binance", Market: model.USDTLinear, OIUSD: 340},
		{Exchange: "bybit", Market: model.USDTLinear, OIUSD: 330},
		{Exchange: "okx", Market: model.USDTLinear, OIUSD: 330},
	}
	report := discrepancyReport(markets, 1000)
	assert.Empty(t, report.Flags)
}
