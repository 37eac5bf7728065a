// Package cascade detects liquidation cascades by tracking six rolling
// timeframe windows per symbol, scoring a weighted blend of velocity,
// acceleration, volume, cross-exchange correlation, funding and OI
// pressure, and driving a per-symbol severity state machine.
package cascade

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/internal/model"
)

// timeframes are the six windows every symbol tracks, in milliseconds.
var timeframes = map[string]uint64{
	"100ms": 100,
	"500ms": 500,
	"2s":    2000,
	"10s":   10000,
	"60s":   60000,
	"300s":  300000,
}

// primaryTimeframe is the window the leading-exchange diagnostic and the
// state machine's correlation input are evaluated against; the scoring
// formula's velocity/volume/accel terms use their own windows (see
// scoreLocked). The remaining windows feed exported diagnostics and
// give consumers multi-horizon visibility.
const primaryTimeframe = "2s"

// backpressureLag is how far behind wall clock an event can arrive
// before the detector reports BACKPRESSURE instead of silently catching up.
const backpressureLag = 10 * time.Second

// ThresholdSource resolves the live ThresholdSet for a symbol. Kept as
// an interface (not a direct dependency on the threshold package) so
// cascade has no import-time coupling to how thresholds are computed.
type ThresholdSource interface {
	Get(symbol string) model.ThresholdSet
}

// Detector tracks every symbol independently; a slow or stuck symbol
// never blocks another (each has its own mutex-guarded state).
type Detector struct {
	thresholds ThresholdSource

	mu      sync.Mutex
	symbols map[string]*symbolState

	out chan model.CascadeSignal
}

type symbolState struct {
	mu          sync.Mutex
	windows     map[string]*model.TimeframeWindow
	sm          *StateMachine
	fundingZ    float64
	oiChangePct float64
}

// New constructs a Detector. thresholds supplies the per-symbol scoring
// reference scales and weights.
func New(thresholds ThresholdSource) *Detector {
	return &Detector{
		thresholds: thresholds,
		symbols:    make(map[string]*symbolState),
		out:        make(chan model.CascadeSignal, 256),
	}
}

// Signals returns the channel cascade signals are published on.
func (d *Detector) Signals() <-chan model.CascadeSignal {
	return d.out
}

func (d *Detector) stateFor(symbol string) *symbolState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.symbols[symbol]
	if !ok {
		windows := make(map[string]*model.TimeframeWindow, len(timeframes))
		for label := range timeframes {
			windows[label] = model.NewTimeframeWindow()
		}
		st = &symbolState{windows: windows, sm: NewStateMachine(symbol)}
		d.symbols[symbol] = st
	}
	return st
}

// UpdateFunding sets the latest funding-rate z-score input for symbol.
func (d *Detector) UpdateFunding(symbol string, z float64) {
	st := d.stateFor(symbol)
	st.mu.Lock()
	st.fundingZ = z
	st.mu.Unlock()
}

// UpdateOI sets the latest OI percent-change input for symbol.
func (d *Detector) UpdateOI(symbol string, pctChange float64) {
	st := d.stateFor(symbol)
	st.mu.Lock()
	st.oiChangePct = pctChange
	st.mu.Unlock()
}

// Consume reads normalized liquidation events from in until ctx is
// cancelled, updating every window and re-scoring on each event.
func (d *Detector) Consume(ctx context.Context, in <-chan model.CompactLiquidation) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			d.handle(ev)
		}
	}
}

func (d *Detector) handle(ev model.CompactLiquidation) {
	symbol, ok := model.SymbolForID(ev.SymbolID)
	if !ok {
		return
	}

	eventTime := time.UnixMilli(int64(ev.TsMs)).UTC()
	now := time.Now().UTC()
	if lag := now.Sub(eventTime); lag > backpressureLag {
		log.Warn().Str("symbol", symbol).Dur("lag", lag).Msg("BACKPRESSURE: cascade detector behind live feed")
	}

	meta := model.SymbolMeta{PriceScale: 1, QtyScale: 1}
	usd := ev.ValueUSD(meta)

	st := d.stateFor(symbol)
	st.mu.Lock()
	for label, durMs := range timeframes {
		st.windows[label].Update(ev.TsMs, usd, ev.Side, ev.ExchangeID, durMs)
	}
	thresholds := d.thresholds.Get(symbol)
	terms := d.scoreLocked(st, thresholds)
	p := Probability(Weights(thresholds.Weights), terms)
	sig := st.sm.Observe(p, now, terms.Correlation, leadingVenue(st.windows[primaryTimeframe]))
	st.mu.Unlock()

	if sig != nil {
		d.publish(*sig)
	}
}

// Tick re-evaluates every tracked symbol's quiet-period state. Callers
// run this on a periodic timer (e.g. every few seconds) so EASING
// signals fire even when no new liquidation events arrive.
func (d *Detector) Tick(now time.Time) {
	d.mu.Lock()
	symbols := make([]*symbolState, 0, len(d.symbols))
	for _, st := range d.symbols {
		symbols = append(symbols, st)
	}
	d.mu.Unlock()

	for _, st := range symbols {
		st.mu.Lock()
		sig := st.sm.CheckQuiet(now)
		st.mu.Unlock()
		if sig != nil {
			d.publish(*sig)
		}
	}
}

func (d *Detector) publish(sig model.CascadeSignal) {
	select {
	case d.out <- sig:
	default:
		log.Warn().Str("symbol", sig.Symbol).Msg("cascade signal channel full, dropping")
	}
}

func (d *Detector) scoreLocked(st *symbolState, t model.ThresholdSet) Terms {
	w2s := st.windows["2s"]
	w500ms := st.windows["500ms"]

	accel500 := w500ms.Acceleration(timeframes["500ms"])
	accel2s := w2s.Acceleration(timeframes["2s"])
	accel := accel500
	if accel2s > accel {
		accel = accel2s
	}

	return Terms{
		Velocity:    normalize(w2s.Velocity(timeframes["2s"]), t.CascadeEventsPerSec),
		Accel:       normalize(accel, t.CascadeAccel),
		Volume:      normalize(w2s.VolumePerSec(timeframes["2s"]), t.CascadeUSDPerSec),
		Correlation: crossExchangeCorrelation(w2s.EventShares()),
		Funding:     normalize(st.fundingZ, t.FundingExtreme),
		OI:          normalize(st.oiChangePct, t.OIChangePct),
	}
}

// leadingVenue returns the exchange with the highest events_per_sec in
// w, ties broken by USD volume.
func leadingVenue(w *model.TimeframeWindow) string {
	var best uint8
	var bestCnt int
	var bestUSD float64
	first := true
	for ex, cnt := range w.PerExchangeCnt {
		usd := w.PerExchangeUSD[ex]
		better := first || cnt > bestCnt || (cnt == bestCnt && usd > bestUSD)
		if better {
			best, bestCnt, bestUSD, first = ex, cnt, usd, false
		}
	}
	if name, ok := exchangeNames[best]; ok {
		return name
	}
	return ""
}

// exchangeNames maps exchange_id back to a venue name for diagnostics.
// Kept local to cascade; providers assign their own exchange_id on
// ingest via the same fixed table.
var exchangeNames = map[uint8]string{
	0: "binance",
	1: "bybit",
	2: "okx",
	3: "gateio",
	4: "bitget",
	5: "hyperliquid",
}
