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

// GateIO implements Provider for Gate.io USDT-margined perpetuals.
type GateIO struct {
	http *httpBase
}

func NewGateIO(cfg *config.ProvidersConfig) *GateIO {
	return &GateIO{http: baseForVenue(cfg, "gateio", "https://api.gateio.ws", 10)}
}

func (g *GateIO) Name() string { return "gateio" }

func (g *GateIO) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	res := model.ExchangeOIResult{Exchange: "gateio", FetchedAt: time.Now().UTC()}
	contract := strings.ToUpper(symbol) + "_USDT"

	var resp struct {
		MarkPrice        string `json:"mark_price"`
		TotalSize        string `json:"total_size"`
		FundingRate      string `json:"funding_rate"`
		QuantoMultiplier string `json:"quanto_multiplier"`
	}
	if err := g.http.getJSON(ctx, "/api/v4/futures/usdt/contracts/"+contract, &resp); err != nil {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.USDTLinear, Reason: classifyErr(ctx, err), Detail: err.Error()})
		return res, nil
	}

	price, _ := strconv.ParseFloat(resp.MarkPrice, 64)
	contracts, _ := strconv.ParseFloat(resp.TotalSize, 64)
	multiplier, _ := strconv.ParseFloat(resp.QuantoMultiplier, 64)
	if multiplier <= 0 {
		multiplier = 1
	}
	funding, _ := strconv.ParseFloat(resp.FundingRate, 64)

	oiTokens := contracts * multiplier
	market := model.MarketOI{
		Exchange: "gateio", Symbol: symbol, Market: model.USDTLinear,
		OITokens: oiTokens, OIUSD: oiTokens * price, Price: price, FundingRate: funding,
		CapturedAt: res.FetchedAt,
	}
	res.Markets = []model.MarketOI{market}
	res.TotalUSD = market.OIUSD
	res.Status = model.StatusOK
	return res, nil
}

func (g *GateIO) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	out := make(chan model.CompactLiquidation, 1024)
	contracts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		contracts = append(contracts, strings.ToUpper(s)+"_USDT")
	}
	feed := &wsconn.Feed{
		Name: "gateio",
		URL:  "wss://fx-ws.gateio.ws/v4/ws/usdt",
		Subscribe: func([]string) [][]byte {
			payload := `{"time":0,"channel":"futures.liquidates","event":"subscribe","payload":[`
			for i, c := range contracts {
				if i > 0 {
					payload += ","
				}
				payload += `"` + c + `"`
			}
			payload += `]}`
			return [][]byte{[]byte(payload)}
		},
		OnMessage: func(data []byte) {
			for _, ev := range parseGateIOLiquidation(data) {
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

func (g *GateIO) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	contract := strings.ToUpper(symbol) + "_USDT"
	var resp []struct {
		T int64  `json:"t"`
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
		V string `json:"v"`
	}
	path := "/api/v4/futures/usdt/candlesticks?contract=" + contract + "&interval=" + interval + "&limit=" + strconv.Itoa(limit)
	if err := g.http.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(resp))
	for _, row := range resp {
		o, _ := strconv.ParseFloat(row.O, 64)
		h, _ := strconv.ParseFloat(row.H, 64)
		l, _ := strconv.ParseFloat(row.L, 64)
		c, _ := strconv.ParseFloat(row.C, 64)
		v, _ := strconv.ParseFloat(row.V, 64)
		candles = append(candles, model.Candle{TsOpen: time.Unix(row.T, 0).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return candles, nil
}

func (g *GateIO) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return []model.MarketType{model.USDTLinear}, nil
}

func (g *GateIO) Health(ctx context.Context) ProviderHealth {
	return g.http.health("", "")
}

func parseGateIOLiquidation(data []byte) []model.CompactLiquidation {
	var msg struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Result  []struct {
			Contract string `json:"contract"`
			Left     int64  `json:"left"`
			Size     int64  `json:"size"`
			Price    string `json:"price"`
			Time     int64  `json:"time"`
		} `json:"result"`
	}
	if err := jsonUnmarshalLenient(data, &msg); err != nil || msg.Channel != "futures.liquidates" || msg.Event != "update" {
		return nil
	}
	out := make([]model.CompactLiquidation, 0, len(msg.Result))
	for _, r := range msg.Result {
		price, _ := strconv.ParseFloat(r.Price, 64)
		side := model.SideLong
		if r.Size > 0 {
			side = model.SideShort
		}
		out = append(out, model.CompactLiquidation{
			TsMs: uint64(r.Time * 1000), SymbolID: model.SymbolIDFor(r.Contract), ExchangeID: 3,
			Side: side, PriceQ: uint32(price * 100), QtyQ: uint32(absInt64(r.Size) * 1e6),
		})
	}
	return out
}

func absInt64(v int64) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
