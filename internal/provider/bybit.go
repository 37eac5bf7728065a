package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/derivintel/internal/config"
	"github.com/sawpanic/derivintel/internal/liquidation"
	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/wsconn"
)

// bybitInverseFaceValueUSD is the USD face value of one inverse
// contract for symbols Bybit quotes inverse (USD-margined); 1 contract
// == $1 of notional for every inverse perpetual Bybit lists. Needed to
// convert a contract count into oi_usd without dividing back through
// price, which is where a naive port of the upstream calculation
// collapses to zero whenever openInterest is reported in contracts
// rather than base-asset units.
const bybitInverseFaceValueUSD = 1.0

// Bybit implements Provider for Bybit's v5 unified API: linear
// (USDT/USDC) and inverse perpetuals.
type Bybit struct {
	http *httpBase
}

func NewBybit(cfg *config.ProvidersConfig) *Bybit {
	return &Bybit{http: baseForVenue(cfg, "bybit", "https://api.bybit.com", 10)}
}

func (b *Bybit) Name() string { return "bybit" }

type bybitTickerResp struct {
	Result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			OpenInterest string `json:"openInterest"`
			MarkPrice    string `json:"markPrice"`
			FundingRate  string `json:"fundingRate"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	res := model.ExchangeOIResult{Exchange: "bybit", FetchedAt: time.Now().UTC()}
	sym := strings.ToUpper(symbol) + "USDT"

	var linearResp bybitTickerResp
	if err := b.http.getJSON(ctx, "/v5/market/tickers?category=linear&symbol="+sym, &linearResp); err != nil {
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: classifyErr(ctx, err), Detail: err.Error()})
	} else if len(linearResp.Result.List) > 0 {
		row := linearResp.Result.List[0]
		oiTok, _ := strconv.ParseFloat(row.OpenInterest, 64)
		price, _ := strconv.ParseFloat(row.MarkPrice, 64)
		funding, _ := strconv.ParseFloat(row.FundingRate, 64)
		res.Markets = append(res.Markets, model.MarketOI{
			Exchange: "bybit", Symbol: symbol, Market: model.USDTLinear,
			OITokens: oiTok, OIUSD: oiTok * price, Price: price, FundingRate: funding,
			CapturedAt: res.FetchedAt,
		})
	}

	invSym := strings.ToUpper(symbol) + "USD"
	var invResp bybitTickerResp
	if err := b.http.getJSON(ctx, "/v5/market/tickers?category=inverse&symbol="+invSym, &invResp); err != nil {
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDInverse, Reason: classifyErr(ctx, err), Detail: err.Error()})
	} else if len(invResp.Result.List) > 0 {
		row := invResp.Result.List[0]
		contracts, _ := strconv.ParseFloat(row.OpenInterest, 64)
		price, _ := strconv.ParseFloat(row.MarkPrice, 64)
		funding, _ := strconv.ParseFloat(row.FundingRate, 64)

		oiUSD := contracts * bybitInverseFaceValueUSD
		var oiTokens float64
		if price > 0 {
			oiTokens = oiUSD / price
		}
		res.Markets = append(res.Markets, model.MarketOI{
			Exchange: "bybit", Symbol: symbol, Market: model.USDInverse,
			OITokens: oiTokens, OIUSD: oiUSD, Price: price, FundingRate: funding,
			CapturedAt: res.FetchedAt,
		})
	}

	for _, m := range res.Markets {
		res.TotalUSD += m.OIUSD
	}
	switch {
	case len(res.Markets) == 0:
		res.Status = model.StatusFailed
	case len(res.Errors) > 0:
		res.Status = model.StatusPartial
	default:
		res.Status = model.StatusOK
	}
	return res, nil
}

func (b *Bybit) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	out := make(chan model.CompactLiquidation, 1024)
	topics := make([][]byte, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, []byte(`{"op":"subscribe","args":["liquidation.`+strings.ToUpper(s)+`USDT"]}`))
	}
	feed := &wsconn.Feed{
		Name:    "bybit",
		URL:     "wss://stream.bybit.com/v5/public/linear",
		Symbols: symbols,
		Subscribe: func([]string) [][]byte {
			return topics
		},
		OnMessage: func(data []byte) {
			for _, ev := range parseBybitLiquidation(data) {
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

func (b *Bybit) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return fetchBybitCandles(ctx, b.http, symbol, interval, limit)
}

func (b *Bybit) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return []model.MarketType{model.USDTLinear, model.USDCLinear, model.USDInverse}, nil
}

func (b *Bybit) Health(ctx context.Context) ProviderHealth {
	return b.http.health("", "")
}

func parseBybitLiquidation(data []byte) []model.CompactLiquidation {
	var msg struct {
		Topic string `json:"topic"`
		Data  []struct {
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			Price     string `json:"price"`
			Size      string `json:"size"`
			UpdatedAt int64  `json:"updatedTime"`
		} `json:"data"`
	}
	if err := jsonUnmarshalLenient(data, &msg); err != nil || len(msg.Data) == 0 {
		return nil
	}
	out := make([]model.CompactLiquidation, 0, len(msg.Data))
	for _, row := range msg.Data {
		price, _ := strconv.ParseFloat(row.Price, 64)
		qty, _ := strconv.ParseFloat(row.Size, 64)
		out = append(out, model.CompactLiquidation{
			TsMs:       uint64(row.UpdatedAt),
			SymbolID:   model.SymbolIDFor(row.Symbol),
			ExchangeID: 1,
			Side:       liquidation.BybitLiquidationSide(row.Side),
			PriceQ:     uint32(price * 100),
			QtyQ:       uint32(qty * 1e6),
		})
	}
	return out
}

func fetchBybitCandles(ctx context.Context, h *httpBase, symbol, interval string, limit int) ([]model.Candle, error) {
	var resp struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	sym := strings.ToUpper(symbol) + "USDT"
	path := "/v5/market/kline?category=linear&symbol=" + sym + "&interval=" + interval + "&limit=" + strconv.Itoa(limit)
	if err := h.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		if len(row) < 6 {
			continue
		}
		msRaw, _ := strconv.ParseInt(row[0], 10, 64)
		o, _ := strconv.ParseFloat(row[1], 64)
		hi, _ := strconv.ParseFloat(row[2], 64)
		lo, _ := strconv.ParseFloat(row[3], 64)
		c, _ := strconv.ParseFloat(row[4], 64)
		v, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, model.Candle{
			TsOpen: time.UnixMilli(msRaw).UTC(), Open: o, High: hi, Low: lo, Close: c, Volume: v,
		})
	}
	return candles, nil
}
