package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/derivintel/internal/config"
	"github.com/sawpanic/derivintel/internal/liquidation"
	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/wsconn"
)

// Binance implements Provider against Binance USDS-M futures (linear,
// USDT/USDC-margined) and COIN-M futures (inverse).
type Binance struct {
	linear  *httpBase
	inverse *httpBase
	feed    *wsconn.Feed
}

// NewBinance constructs a Binance provider. symbols is recorded on the
// provider's feed; the liquidation stream always reads the combined
// all-symbol forceOrder stream and is not filtered by symbol. cfg is an optional
// providers.yaml document; pass nil to use built-in rate limit defaults
// with no circuit breaker or daily budget.
func NewBinance(symbols []string, cfg *config.ProvidersConfig) *Binance {
	b := &Binance{
		linear:  baseForVenue(cfg, "binance", "https://fapi.binance.com", 18),
		inverse: baseForVenue(cfg, "binance", "https://dapi.binance.com", 18),
	}
	b.feed = &wsconn.Feed{
		Name:    "binance",
		URL:     "wss://fstream.binance.com/ws/!forceOrder@arr",
		Symbols: symbols,
	}
	return b
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	sym := strings.ToUpper(symbol) + "USDT"
	res := model.ExchangeOIResult{Exchange: "binance", FetchedAt: time.Now().UTC()}

	var oiResp struct {
		OpenInterest string `json:"openInterest"`
		Symbol       string `json:"symbol"`
	}
	if err := b.linear.getJSON(ctx, "/fapi/v1/openInterest?symbol="+sym, &oiResp); err != nil {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: classifyErr(ctx, err), Detail: err.Error()})
		return res, nil
	}

	var priceResp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := b.linear.getJSON(ctx, "/fapi/v1/premiumIndex?symbol="+sym, &priceResp); err != nil {
		res.Status = model.StatusPartial
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: classifyErr(ctx, err), Detail: err.Error()})
		return res, nil
	}

	oiTok, _ := strconv.ParseFloat(oiResp.OpenInterest, 64)
	price, _ := strconv.ParseFloat(priceResp.MarkPrice, 64)
	market := model.MarketOI{
		Exchange: "binance", Symbol: symbol, Market: model.USDTLinear,
		OITokens: oiTok, OIUSD: oiTok * price, Price: price, CapturedAt: res.FetchedAt,
	}
	res.Markets = []model.MarketOI{market}
	res.TotalUSD = market.OIUSD
	res.Status = model.StatusOK
	return res, nil
}

func (b *Binance) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	out := make(chan model.CompactLiquidation, 1024)
	feed := &wsconn.Feed{
		Name:    "binance",
		URL:     "wss://fstream.binance.com/ws/!forceOrder@arr",
		Symbols: symbols,
		OnMessage: func(data []byte) {
			ev, ok := parseBinanceForceOrder(data)
			if ok {
				select {
				case out <- ev:
				default:
				}
			}
		},
	}
	go func() {
		defer close(out)
		feed.Run(ctx)
	}()
	return out, nil
}

func (b *Binance) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	sym := strings.ToUpper(symbol) + "USDT"
	var raw [][]interface{}
	path := fmt.Sprintf("/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", sym, interval, limit)
	if err := b.linear.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, model.Candle{
			TsOpen: timeFromMillisFloat(row[0]),
			Open:   parseFloatAny(row[1]),
			High:   parseFloatAny(row[2]),
			Low:    parseFloatAny(row[3]),
			Close:  parseFloatAny(row[4]),
			Volume: parseFloatAny(row[5]),
		})
	}
	return candles, nil
}

func (b *Binance) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return []model.MarketType{model.USDTLinear, model.USDInverse}, nil
}

func (b *Binance) Health(ctx context.Context) ProviderHealth {
	h := b.linear.health("", "")
	h.StreamState = "" // overwritten by caller wiring the live feed's state where applicable
	return h
}

// parseBinanceForceOrder decodes one !forceOrder@arr message into a
// CompactLiquidation. Binance's forced-order side is the side of the
// order that executed the liquidation, not the liquidated position's
// side, so it is converted with liquidation.BinanceForceOrderSide.
func parseBinanceForceOrder(data []byte) (model.CompactLiquidation, bool) {
	type forceOrder struct {
		Order struct {
			Symbol      string `json:"s"`
			Side        string `json:"S"`
			Price       string `json:"p"`
			Qty         string `json:"q"`
			TradeTimeMs int64  `json:"T"`
		} `json:"o"`
	}
	var msg forceOrder
	if err := jsonUnmarshalLenient(data, &msg); err != nil || msg.Order.Symbol == "" {
		return model.CompactLiquidation{}, false
	}
	price, _ := strconv.ParseFloat(msg.Order.Price, 64)
	qty, _ := strconv.ParseFloat(msg.Order.Qty, 64)
	side := liquidation.BinanceForceOrderSide(msg.Order.Side)

	return model.CompactLiquidation{
		TsMs:       uint64(msg.Order.TradeTimeMs),
		SymbolID:   model.SymbolIDFor(msg.Order.Symbol),
		ExchangeID: 0,
		Side:       side,
		PriceQ:     uint32(price * 100),
		QtyQ:       uint32(qty * 1e6),
	}, true
}
