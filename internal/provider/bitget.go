package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/derivintel/internal/config"
	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/wsconn"
)

// Bitget implements Provider across Bitget's two futures product
// types: UMCBL (USDT-margined linear) and DMCBL (USD-margined inverse).
type Bitget struct {
	http *httpBase
}

func NewBitget(cfg *config.ProvidersConfig) *Bitget {
	return &Bitget{http: baseForVenue(cfg, "bitget", "https://api.bitget.com", 10)}
}

func (bg *Bitget) Name() string { return "bitget" }

type bitgetTickerResp struct {
	Data struct {
		Last          string `json:"last"`
		HoldingAmount string `json:"holdingAmount"`
		FundingRate   string `json:"fundingRate"`
	} `json:"data"`
}

func (bg *Bitget) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	res := model.ExchangeOIResult{Exchange: "bitget", FetchedAt: time.Now().UTC()}
	sym := strings.ToUpper(symbol) + "USDT"

	var linear bitgetTickerResp
	if err := bg.http.getJSON(ctx, "/api/mix/v1/market/ticker?symbol="+sym+"_UMCBL", &linear); err != nil {
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: classifyErr(ctx, err), Detail: err.Error()})
	} else {
		oiTok, _ := strconv.ParseFloat(linear.Data.HoldingAmount, 64)
		price, _ := strconv.ParseFloat(linear.Data.Last, 64)
		funding, _ := strconv.ParseFloat(linear.Data.FundingRate, 64)
		res.Markets = append(res.Markets, model.MarketOI{
			Exchange: "bitget", Symbol: symbol, Market: model.USDTLinear,
			OITokens: oiTok, OIUSD: oiTok * price, Price: price, FundingRate: funding,
			CapturedAt: res.FetchedAt,
		})
	}

	invSym := strings.ToUpper(symbol) + "USD"
	var inv bitgetTickerResp
	if err := bg.http.getJSON(ctx, "/api/mix/v1/market/ticker?symbol="+invSym+"_DMCBL", &inv); err != nil {
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDInverse, Reason: classifyErr(ctx, err), Detail: err.Error()})
	} else {
		contracts, _ := strconv.ParseFloat(inv.Data.HoldingAmount, 64)
		price, _ := strconv.ParseFloat(inv.Data.Last, 64)
		funding, _ := strconv.ParseFloat(inv.Data.FundingRate, 64)
		oiUSD := contracts * price
		res.Markets = append(res.Markets, model.MarketOI{
			Exchange: "bitget", Symbol: symbol, Market: model.USDInverse,
			OITokens: contracts, OIUSD: oiUSD, Price: price, FundingRate: funding,
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

func (bg *Bitget) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	out := make(chan model.CompactLiquidation, 1024)
	feed := &wsconn.Feed{
		Name: "bitget",
		URL:  "wss://ws.bitget.com/mix/v1/stream",
		Subscribe: func([]string) [][]byte {
			args := `{"op":"subscribe","args":[`
			for i, s := range symbols {
				if i > 0 {
					args += ","
				}
				args += `{"instType":"mc","channel":"liquidation-orders","instId":"` + strings.ToUpper(s) + `USDT_UMCBL"}`
			}
			args += `]}`
			return [][]byte{[]byte(args)}
		},
		OnMessage: func(data []byte) {
			for _, ev := range parseBitgetLiquidation(data) {
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

func (bg *Bitget) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	sym := strings.ToUpper(symbol) + "USDT_UMCBL"
	var resp [][]string
	path := "/api/mix/v1/market/candles?symbol=" + sym + "&granularity=" + interval + "&limit=" + strconv.Itoa(limit)
	if err := bg.http.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(resp))
	for _, row := range resp {
		if len(row) < 6 {
			continue
		}
		msRaw, _ := strconv.ParseInt(row[0], 10, 64)
		o, _ := strconv.ParseFloat(row[1], 64)
		h, _ := strconv.ParseFloat(row[2], 64)
		l, _ := strconv.ParseFloat(row[3], 64)
		c, _ := strconv.ParseFloat(row[4], 64)
		v, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, model.Candle{TsOpen: time.UnixMilli(msRaw).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return candles, nil
}

func (bg *Bitget) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return []model.MarketType{model.USDTLinear, model.USDInverse}, nil
}

func (bg *Bitget) Health(ctx context.Context) ProviderHealth {
	return bg.http.health("", "")
}

func parseBitgetLiquidation(data []byte) []model.CompactLiquidation {
	var msg struct {
		Action string `json:"action"`
		Arg    struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID string `json:"instId"`
			Side   string `json:"side"`
			Price  string `json:"price"`
			Size   string `json:"size"`
			Ts     string `json:"ts"`
		} `json:"data"`
	}
	if err := jsonUnmarshalLenient(data, &msg); err != nil || msg.Arg.Channel != "liquidation-orders" {
		return nil
	}
	out := make([]model.CompactLiquidation, 0, len(msg.Data))
	for _, d := range msg.Data {
		price, _ := strconv.ParseFloat(d.Price, 64)
		qty, _ := strconv.ParseFloat(d.Size, 64)
		tsMs, _ := strconv.ParseInt(d.Ts, 10, 64)
		side := model.SideLong
		if strings.EqualFold(d.Side, "buy") {
			side = model.SideShort
		}
		out = append(out, model.CompactLiquidation{
			TsMs: uint64(tsMs), SymbolID: model.SymbolIDFor(d.InstID), ExchangeID: 4,
			Side: side, PriceQ: uint32(price * 100), QtyQ: uint32(qty * 1e6),
		})
	}
	return out
}
