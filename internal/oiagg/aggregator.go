// Package oiagg fans an OI request out across every registered exchange
// provider under a shared deadline, folds the results into per-market-type
// totals, and flags cross-exchange discrepancies.
package oiagg

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/provider"
)

const (
	defaultDeadline        = 5 * time.Second
	dominanceThreshold      = 0.40
	crossExchangeSkewThresh = 0.25
)

// exchangeOrder is the deterministic exchange priority used to break ties
// when two MarketOI rows carry equal oi_usd.
var exchangeOrder = map[string]int{
	"binance":     0,
	"bybit":       1,
	"okx":         2,
	"gateio":      3,
	"bitget":      4,
	"hyperliquid": 5,
}

// Aggregator fans a symbol's OI request out across every registered
// provider and validates the combined result.
type Aggregator struct {
	registry *provider.Registry
	deadline time.Duration
}

// New constructs an Aggregator over registry with the default 5s deadline.
func New(registry *provider.Registry) *Aggregator {
	return &Aggregator{registry: registry, deadline: defaultDeadline}
}

// WithDeadline overrides the default fan-out deadline, for tests.
func (a *Aggregator) WithDeadline(d time.Duration) *Aggregator {
	a.deadline = d
	return a
}

// Aggregate fetches symbol's OI snapshot from every provider concurrently.
// Every provider call shares one deadline; a slow or failing provider
// never blocks or poisons the others -- on deadline it is recorded as a
// timeout error and excluded from the totals.
func (a *Aggregator) Aggregate(ctx context.Context, symbol string) model.ValidatedOISnapshot {
	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	providers := a.registry.All()
	results := make([]model.ExchangeOIResult, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			results[i] = fetchOne(ctx, p, symbol)
		}(i, p)
	}
	wg.Wait()

	return a.validate(symbol, results)
}

func fetchOne(ctx context.Context, p provider.Provider, symbol string) model.ExchangeOIResult {
	res, err := p.Snapshot(ctx, symbol)
	if err != nil {
		kind := model.ErrTimeout
		if ctx.Err() == nil {
			kind = model.ErrNetwork
		}
		log.Debug().Str("venue", p.Name()).Str("symbol", symbol).Err(err).Msg("oi snapshot failed")
		return model.ExchangeOIResult{
			Exchange:  p.Name(),
			Status:    model.StatusFailed,
			Errors:    []model.ProviderError{{Reason: kind, Detail: err.Error()}},
			FetchedAt: time.Now().UTC(),
		}
	}
	return res
}

// validate folds per-exchange results into totals, ranks markets, and
// computes the discrepancy report.
func (a *Aggregator) validate(symbol string, results []model.ExchangeOIResult) model.ValidatedOISnapshot {
	var totals model.MarketTypeTotals
	var allMarkets []model.MarketOI
	var errSummary []string
	exchangeCount := 0

	for _, r := range results {
		if r.Status == model.StatusFailed {
			for _, e := range r.Errors {
				errSummary = append(errSummary, r.Exchange+": "+e.Reason.String()+": "+e.Detail)
			}
			continue
		}
		exchangeCount++
		for _, m := range r.Markets {
			allMarkets = append(allMarkets, m)
			addToTotals(&totals, m)
		}
	}
	totals.Grand = totals.USDTLinear + totals.USDCLinear + totals.USDInverse + totals.Native

	sort.SliceStable(allMarkets, func(i, j int) bool {
		if allMarkets[i].OIUSD != allMarkets[j].OIUSD {
			return allMarkets[i].OIUSD > allMarkets[j].OIUSD
		}
		oi, oj := exchangeOrder[allMarkets[i].Exchange], exchangeOrder[allMarkets[j].Exchange]
		if oi != oj {
			return oi < oj
		}
		return allMarkets[i].Market.EnumOrder() < allMarkets[j].Market.EnumOrder()
	})

	return model.ValidatedOISnapshot{
		Symbol:        symbol,
		Results:       results,
		Totals:        totals,
		TopMarkets:    allMarkets,
		ExchangeCount: exchangeCount,
		MarketCount:   len(allMarkets),
		CoverageAt:    time.Now().UTC(),
		Discrepancy:   discrepancyReport(allMarkets, totals.Grand),
		ErrorSummary:  errSummary,
	}
}

func addToTotals(t *model.MarketTypeTotals, m model.MarketOI) {
	switch m.Market {
	case model.USDTLinear:
		t.USDTLinear += m.OIUSD
	case model.USDCLinear:
		t.USDCLinear += m.OIUSD
	case model.USDInverse:
		t.USDInverse += m.OIUSD
	case model.Native:
		t.Native += m.OIUSD
	}
}

// discrepancyReport flags EXCHANGE_DOMINANCE when one venue holds more
// than 40% of total OI, and CROSS_EXCHANGE_SKEW when the two largest
// venues differ by more than 25% of the larger one.
func discrepancyReport(markets []model.MarketOI, grand float64) model.DiscrepancyReport {
	var report model.DiscrepancyReport
	if grand <= 0 || len(markets) == 0 {
		return report
	}

	perExchange := make(map[string]float64)
	for _, m := range markets {
		perExchange[m.Exchange] += m.OIUSD
	}

	type kv struct {
		exchange string
		usd      float64
	}
	ranked := make([]kv, 0, len(perExchange))
	for k, v := range perExchange {
		ranked = append(ranked, kv{k, v})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].usd != ranked[j].usd {
			return ranked[i].usd > ranked[j].usd
		}
		return exchangeOrder[ranked[i].exchange] < exchangeOrder[ranked[j].exchange]
	})

	top := ranked[0]
	if share := top.usd / grand; share > dominanceThreshold {
		report.Flags = append(report.Flags, model.FlagExchangeDominance)
		report.DominantVenue = top.exchange
		report.DominantShare = share
	}

	if len(ranked) >= 2 {
		a, b := ranked[0], ranked[1]
		if a.usd > 0 {
			skew := (a.usd - b.usd) / a.usd
			if skew > crossExchangeSkewThresh {
				report.Flags = append(report.Flags, model.FlagCrossExchangeSkew)
				report.SkewVenueA = a.exchange
				report.SkewVenueB = b.exchange
				report.SkewPct = skew
			}
		}
	}

	return report
}
