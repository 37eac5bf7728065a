package model

import "time"

// Candle is an OHLCV tuple. A sequence is expected to be strictly
// monotonic in TsOpen and gapless modulo the stated interval.
type Candle struct {
	TsOpen time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// TimeframeConfig names the candle/bin counts recognized by the profile
// calculator for a given timeframe label.
type TimeframeConfig struct {
	Label   string
	Candles int
	Bins    int
}

var Timeframes = map[string]TimeframeConfig{
	"1m":  {Label: "1m", Candles: 60, Bins: 20},
	"15m": {Label: "15m", Candles: 96, Bins: 24},
	"1h":  {Label: "1h", Candles: 168, Bins: 24},
	"4h":  {Label: "4h", Candles: 84, Bins: 30},
	"1d":  {Label: "1d", Candles: 30, Bins: 50},
}

// ProfileSnapshot is the profile calculator's per (symbol, timeframe)
// output. Invariant: VAL <= POC <= VAH; ValueAreaPct in [0.65,0.80] under
// normal operation (candle count >= the timeframe minimum).
type ProfileSnapshot struct {
	Symbol          string
	Timeframe       string
	POC             float64
	VAH             float64
	VAL             float64
	ValueAreaPct    float64
	TPOPOC          float64
	TPOVAH          float64
	TPOVAL          float64
	TPOValueAreaPct float64
	SessionVWAP     float64
	CandleCount     int
	SessionStartUTC time.Time
	InsufficientData bool
}
