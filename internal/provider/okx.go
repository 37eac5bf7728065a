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

// OKX implements Provider for OKX's USDT/USDC-margined swap contracts.
// OKX quotes every perpetual as a linear swap, so it carries no
// inverse/native markets.
type OKX struct {
	http *httpBase
}

func NewOKX(cfg *config.ProvidersConfig) *OKX {
	return &OKX{http: baseForVenue(cfg, "okx", "https://www.okx.com", 15)}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	res := model.ExchangeOIResult{Exchange: "okx", FetchedAt: time.Now().UTC()}
	instID := strings.ToUpper(symbol) + "-USDT-SWAP"

	var oiResp struct {
		Data []struct {
			InstID string `json:"instId"`
			Oi     string `json:"oi"`
			OiCcy  string `json:"oiCcy"`
		} `json:"data"`
	}
	if err := o.http.getJSON(ctx, "/api/v5/public/open-interest?instId="+instID, &oiResp); err != nil {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: classifyErr(ctx, err), Detail: err.Error()})
		return res, nil
	}
	if len(oiResp.Data) == 0 {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: model.ErrUnknownSymbol, Detail: errEmptyResponse.Error()})
		return res, nil
	}

	var tickerResp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	var price float64
	if err := o.http.getJSON(ctx, "/api/v5/market/ticker?instId="+instID, &tickerResp); err == nil && len(tickerResp.Data) > 0 {
		price, _ = strconv.ParseFloat(tickerResp.Data[0].Last, 64)
	}

	oiBase, _ := strconv.ParseFloat(oiResp.Data[0].OiCcy, 64)
	market := model.MarketOI{
		Exchange: "okx", Symbol: symbol, Market: model.USDTLinear,
		OITokens: oiBase, OIUSD: oiBase * price, Price: price, CapturedAt: res.FetchedAt,
	}
	res.Markets = []model.MarketOI{market}
	res.TotalUSD = market.OIUSD
	res.Status = model.StatusOK
	return res, nil
}

func (o *OKX) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	out := make(chan model.CompactLiquidation, 1024)
	instIDs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		instIDs = append(instIDs, strings.ToUpper(s)+"-USDT-SWAP")
	}
	feed := &wsconn.Feed{
		Name: "okx",
		URL:  "wss://ws.okx.com:8443/ws/v5/public",
		Subscribe: func([]string) [][]byte {
			args := `{"op":"subscribe","args":[`
			for i, id := range instIDs {
				if i > 0 {
					args += ","
				}
				args += `{"channel":"liquidation-orders","instType":"SWAP","instId":"` + id + `"}`
			}
			args += `]}`
			return [][]byte{[]byte(args)}
		},
		OnMessage: func(data []byte) {
			for _, ev := range parseOKXLiquidation(data) {
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

func (o *OKX) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	instID := strings.ToUpper(symbol) + "-USDT-SWAP"
	var resp struct {
		Data [][]string `json:"data"`
	}
	path := "/api/v5/market/candles?instId=" + instID + "&bar=" + interval + "&limit=" + strconv.Itoa(limit)
	if err := o.http.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		msRaw, _ := strconv.ParseInt(row[0], 10, 64)
		op, _ := strconv.ParseFloat(row[1], 64)
		hi, _ := strconv.ParseFloat(row[2], 64)
		lo, _ := strconv.ParseFloat(row[3], 64)
		cl, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, model.Candle{TsOpen: time.UnixMilli(msRaw).UTC(), Open: op, High: hi, Low: lo, Close: cl, Volume: vol})
	}
	return candles, nil
}

func (o *OKX) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return []model.MarketType{model.USDTLinear}, nil
}

func (o *OKX) Health(ctx context.Context) ProviderHealth {
	return o.http.health("", "")
}

func parseOKXLiquidation(data []byte) []model.CompactLiquidation {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID string `json:"instId"`
			Details []struct {
				Side string `json:"side"`
				Px   string `json:"bkPx"`
				Sz   string `json:"sz"`
				Ts   string `json:"ts"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := jsonUnmarshalLenient(data, &msg); err != nil || msg.Arg.Channel != "liquidation-orders" {
		return nil
	}
	var out []model.CompactLiquidation
	for _, d := range msg.Data {
		for _, det := range d.Details {
			price, _ := strconv.ParseFloat(det.Px, 64)
			qty, _ := strconv.ParseFloat(det.Sz, 64)
			tsMs, _ := strconv.ParseInt(det.Ts, 10, 64)
			side := model.SideLong
			if strings.EqualFold(det.Side, "buy") {
				side = model.SideShort
			}
			out = append(out, model.CompactLiquidation{
				TsMs: uint64(tsMs), SymbolID: model.SymbolIDFor(d.InstID), ExchangeID: 2,
				Side: side, PriceQ: uint32(price * 100), QtyQ: uint32(qty * 1e6),
			})
		}
	}
	return out
}
