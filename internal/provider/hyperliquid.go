package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sawpanic/derivintel/internal/config"
	"github.com/sawpanic/derivintel/internal/liquidation"
	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/wsconn"
)

// hyperliquidLiquidatorAddress is the well-known HLP liquidator vault
// address; trades where this address is a counterparty are liquidations,
// and which side it traded on tells us which side was liquidated.
const hyperliquidLiquidatorAddress = "0x2e3d94f0562703b25c83308a05046ddaf9a8dd14"

// Hyperliquid implements Provider against the Hyperliquid DEX. It
// quotes everything NATIVE (USDC margin, no CEX-style contract suffix)
// and has no inverse market.
type Hyperliquid struct {
	http *httpBase
}

func NewHyperliquid(cfg *config.ProvidersConfig) *Hyperliquid {
	return &Hyperliquid{http: baseForVenue(cfg, "hyperliquid", "https://api.hyperliquid.xyz", 10)}
}

func (h *Hyperliquid) Name() string { return "hyperliquid" }

func (h *Hyperliquid) postJSON(ctx context.Context, body interface{}, out interface{}) error {
	h.http.recordAttempt()
	payload, err := json.Marshal(body)
	if err != nil {
		h.http.recordError()
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.http.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		h.http.recordError()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.http.httpClient.Do(req)
	if err != nil {
		h.http.recordError()
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		h.http.recordError()
		return err
	}
	h.http.recordSuccess()
	return nil
}

func (h *Hyperliquid) Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error) {
	res := model.ExchangeOIResult{Exchange: "hyperliquid", FetchedAt: time.Now().UTC()}

	var universe struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	var assetCtxs []struct {
		Funding     string `json:"funding"`
		OpenInterest string `json:"openInterest"`
		MarkPx      string `json:"markPx"`
	}
	req := map[string]string{"type": "metaAndAssetCtxs"}
	var raw []json.RawMessage
	if err := h.postJSON(ctx, req, &raw); err != nil || len(raw) < 2 {
		res.Status = model.StatusFailed
		if err == nil {
			err = errEmptyResponse
		}
		res.Errors = append(res.Errors, model.ProviderError{Market: model.Native, Reason: classifyErr(ctx, err), Detail: err.Error()})
		return res, nil
	}
	if err := json.Unmarshal(raw[0], &universe); err != nil {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.Native, Reason: model.ErrMalformedResponse, Detail: err.Error()})
		return res, nil
	}
	if err := json.Unmarshal(raw[1], &assetCtxs); err != nil {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.Native, Reason: model.ErrMalformedResponse, Detail: err.Error()})
		return res, nil
	}

	idx := -1
	for i, u := range universe.Universe {
		if strings.EqualFold(u.Name, symbol) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(assetCtxs) {
		res.Status = model.StatusFailed
		res.Errors = append(res.Errors, model.ProviderError{Market: model.Native, Reason: model.ErrUnknownSymbol, Detail: symbol})
		return res, nil
	}

	ctxRow := assetCtxs[idx]
	oiTok := parseFloatAny(ctxRow.OpenInterest)
	price := parseFloatAny(ctxRow.MarkPx)
	funding := parseFloatAny(ctxRow.Funding)
	market := model.MarketOI{
		Exchange: "hyperliquid", Symbol: symbol, Market: model.Native,
		OITokens: oiTok, OIUSD: oiTok * price, Price: price, FundingRate: funding,
		CapturedAt: res.FetchedAt,
	}
	res.Markets = []model.MarketOI{market}
	res.TotalUSD = market.OIUSD
	res.Status = model.StatusOK
	return res, nil
}

func (h *Hyperliquid) StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error) {
	out := make(chan model.CompactLiquidation, 1024)
	feed := &wsconn.Feed{
		Name: "hyperliquid",
		URL:  "wss://api.hyperliquid.xyz/ws",
		Subscribe: func([]string) [][]byte {
			frames := make([][]byte, 0, len(symbols))
			for _, s := range symbols {
				frames = append(frames, []byte(`{"method":"subscribe","subscription":{"type":"trades","coin":"`+strings.ToUpper(s)+`"}}`))
			}
			return frames
		},
		OnMessage: func(data []byte) {
			for _, ev := range parseHyperliquidTrades(data) {
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

func (h *Hyperliquid) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	req := map[string]interface{}{
		"type": "candleSnapshot",
		"req": map[string]interface{}{
			"coin":      strings.ToUpper(symbol),
			"interval":  interval,
			"startTime": time.Now().Add(-time.Duration(limit) * time.Hour).UnixMilli(),
			"endTime":   time.Now().UnixMilli(),
		},
	}
	var resp []struct {
		T int64  `json:"t"`
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
		V string `json:"v"`
	}
	if err := h.postJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(resp))
	for _, row := range resp {
		candles = append(candles, model.Candle{
			TsOpen: time.UnixMilli(row.T).UTC(),
			Open:   parseFloatAny(row.O), High: parseFloatAny(row.H),
			Low: parseFloatAny(row.L), Close: parseFloatAny(row.C), Volume: parseFloatAny(row.V),
		})
	}
	return candles, nil
}

func (h *Hyperliquid) ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error) {
	return []model.MarketType{model.Native}, nil
}

func (h *Hyperliquid) Health(ctx context.Context) ProviderHealth {
	return h.http.health("", "")
}

// parseHyperliquidTrades decodes a trades feed message and keeps only
// fills where the HLP liquidator vault is a counterparty, inferring the
// liquidated side from which side the vault traded on. This is the only
// side-inference path Hyperliquid supports; trades without the vault as
// a counterparty are not liquidations and are discarded.
func parseHyperliquidTrades(data []byte) []model.CompactLiquidation {
	var msg struct {
		Channel string `json:"channel"`
		Data    []struct {
			Coin  string `json:"coin"`
			Side  string `json:"side"` // "B" buyer-initiated, "A" seller-initiated
			Px    string `json:"px"`
			Sz    string `json:"sz"`
			Time  int64  `json:"time"`
			Users [2]string `json:"users"` // [buyer, seller]
		} `json:"data"`
	}
	if err := jsonUnmarshalLenient(data, &msg); err != nil || msg.Channel != "trades" {
		return nil
	}
	out := make([]model.CompactLiquidation, 0, len(msg.Data))
	for _, t := range msg.Data {
		vaultIsBuyer := strings.EqualFold(t.Users[0], hyperliquidLiquidatorAddress)
		vaultIsSeller := strings.EqualFold(t.Users[1], hyperliquidLiquidatorAddress)
		if !vaultIsBuyer && !vaultIsSeller {
			continue
		}
		price := parseFloatAny(t.Px)
		qty := parseFloatAny(t.Sz)
		out = append(out, model.CompactLiquidation{
			TsMs: uint64(t.Time), SymbolID: model.SymbolIDFor(t.Coin), ExchangeID: 5,
			Side: liquidation.HyperliquidLiquidationSide(vaultIsBuyer),
			PriceQ: uint32(price * 100), QtyQ: uint32(qty * 1e6),
		})
	}
	return out
}
