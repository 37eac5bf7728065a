// Package threshold computes market-cap-tiered, session-aware,
// volatility-adjusted liquidation and cascade thresholds, served from a
// hot-reloadable config snapshot so that adding a symbol never requires
// a code change. A single atomic.Value snapshot pointer avoids torn
// reads under per-key locking.
package threshold

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/internal/cache"
	"github.com/sawpanic/derivintel/internal/model"
)

// tierRatio is the base liquidation threshold as a fraction of daily
// volume, indexed by model.Tier.
var tierRatio = map[model.Tier]float64{
	model.TierT1: 0.0005,
	model.TierT2: 0.001,
	model.TierT3: 0.002,
	model.TierT4: 0.005,
}

const floorUSD = 5000.0
const cascadeMultiplier = 5.0
const defaultCascadeCount = 5

var sessionMultiplier = map[string]float64{
	"asian":    0.7,
	"european": 0.9,
	"us":       1.0,
	"weekend":  0.5,
}

// SymbolConfig is the operator-supplied, per-symbol market data the
// engine needs: tier assignment, reference daily volume and realized
// volatility. Reloaded wholesale on each config generation bump.
type SymbolConfig struct {
	Symbol        string     `json:"symbol"`
	Tier          model.Tier `json:"tier"`
	DailyVolumeUSD float64   `json:"daily_volume_usd"`
	RealizedVol7d float64    `json:"realized_vol_7d"`

	CascadeEventsPerSec float64 `json:"cascade_events_per_sec"`
	CascadeAccel        float64 `json:"cascade_accel"`
	CascadeUSDPerSec    float64 `json:"cascade_usd_per_sec"`
	FundingExtreme      float64 `json:"funding_extreme"`
	OIChangePct         float64 `json:"oi_change_pct"`
}

// snapshot is the atomically-swapped configuration generation.
type snapshot struct {
	generation int
	symbols    map[string]SymbolConfig
	weights    model.ScoreWeights
}

// Engine resolves ThresholdSets per symbol, caching each for one hour
// or until the config generation changes, whichever comes first.
type Engine struct {
	current atomic.Value // holds *snapshot
	cache   cache.Cache
	now     func() time.Time
}

// New constructs an Engine with an empty initial snapshot (generation 0,
// no symbols configured — every lookup falls back to TierT4 defaults
// until a config is loaded).
func New(c cache.Cache) *Engine {
	e := &Engine{cache: c, now: time.Now}
	e.current.Store(&snapshot{generation: 0, symbols: map[string]SymbolConfig{}, weights: model.DefaultScoreWeights()})
	return e
}

// LoadConfig parses a JSON document of the form
// {"symbols": [...], "weights": {...}} and atomically swaps it in as a
// new generation, provided its content actually differs from the
// current generation (a reload with identical content must not bump the
// generation).
func (e *Engine) LoadConfig(raw []byte) error {
	var doc struct {
		Symbols []SymbolConfig    `json:"symbols"`
		Weights *model.ScoreWeights `json:"weights"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Warn().Err(err).Msg("threshold config reload failed, keeping previous generation")
		return err
	}

	cur := e.snapshot()
	next := &snapshot{
		generation: cur.generation,
		symbols:    make(map[string]SymbolConfig, len(doc.Symbols)),
		weights:    cur.weights,
	}
	for _, s := range doc.Symbols {
		next.symbols[model.Normalize(s.Symbol)] = s
	}
	if doc.Weights != nil {
		next.weights = *doc.Weights
	}

	if symbolsEqual(cur.symbols, next.symbols) && cur.weights == next.weights {
		return nil
	}
	next.generation = cur.generation + 1
	e.current.Store(next)
	log.Info().Int("generation", next.generation).Int("symbols", len(next.symbols)).Msg("threshold config reloaded")
	return nil
}

func symbolsEqual(a, b map[string]SymbolConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (e *Engine) snapshot() *snapshot {
	return e.current.Load().(*snapshot)
}

// Generation returns the currently active config generation.
func (e *Engine) Generation() int {
	return e.snapshot().generation
}

// Get resolves the full ThresholdSet for symbol, consulting the 1h
// cache first and keying the cache entry on (symbol, generation) so a
// config reload invalidates every cached entry implicitly.
func (e *Engine) Get(symbol string) model.ThresholdSet {
	norm := model.Normalize(symbol)
	snap := e.snapshot()
	cacheKey := "threshold:" + norm + ":" + itoa(snap.generation)

	if e.cache != nil {
		if raw, ok := e.cache.Get(cacheKey); ok {
			var ts model.ThresholdSet
			if json.Unmarshal(raw, &ts) == nil {
				return ts
			}
		}
	}

	ts := e.compute(norm, snap)
	if e.cache != nil {
		if raw, err := json.Marshal(ts); err == nil {
			e.cache.Set(cacheKey, raw, time.Hour)
		}
	}
	return ts
}

func (e *Engine) compute(symbol string, snap *snapshot) model.ThresholdSet {
	cfg, ok := snap.symbols[symbol]
	if !ok {
		cfg = SymbolConfig{Symbol: symbol, Tier: model.TierT4}
	}

	base := cfg.DailyVolumeUSD * tierRatio[cfg.Tier]
	if base < floorUSD {
		base = floorUSD
	}

	base *= sessionMultiplier[currentSession(e.now())]
	base *= volatilityMultiplier(cfg.RealizedVol7d)

	return model.ThresholdSet{
		Symbol:             symbol,
		Tier:               cfg.Tier,
		LiqSingleUSD:       base,
		LiqCascadeCountMin: defaultCascadeCount,
		LiqCascadeUSD:      base * cascadeMultiplier,
		OIChangePct:        nonZero(cfg.OIChangePct, 0.05),
		OIMinUSD:           floorUSD,
		VolSpikeMultiplier: volatilityMultiplier(cfg.RealizedVol7d),
		CascadeEventsPerSec: nonZero(cfg.CascadeEventsPerSec, 5),
		CascadeAccel:        nonZero(cfg.CascadeAccel, 2),
		CascadeUSDPerSec:    nonZero(cfg.CascadeUSDPerSec, base/10),
		FundingExtreme:      nonZero(cfg.FundingExtreme, 3),
		Weights:             snap.weights,
		Generation:          snap.generation,
	}
}

func nonZero(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// currentSession buckets UTC time into asian/european/us/weekend on a
// fixed schedule: Sat/Sun is weekend regardless of hour; 00:00-08:00 UTC
// asian, 08:00-14:00 UTC european, 14:00-24:00 UTC us.
func currentSession(now time.Time) string {
	u := now.UTC()
	if wd := u.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return "weekend"
	}
	switch {
	case u.Hour() < 8:
		return "asian"
	case u.Hour() < 14:
		return "european"
	default:
		return "us"
	}
}

// volatilityMultiplier implements clamp(0.5, 2.0, 1 + (vol7d-0.05)*2).
func volatilityMultiplier(vol7d float64) float64 {
	m := 1.0 + (vol7d-0.05)*2
	if m < 0.5 {
		return 0.5
	}
	if m > 2.0 {
		return 2.0
	}
	return m
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
