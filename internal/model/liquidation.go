package model

// Side is the position side that was forcibly closed. LONG means the
// forced order was a sell (a long position was liquidated); SHORT means
// the forced order was a buy.
type Side uint8

const (
	SideLong  Side = 0
	SideShort Side = 1
)

func (s Side) String() string {
	if s == SideShort {
		return "SHORT"
	}
	return "LONG"
}

// CompactLiquidation is the 20-byte wire/ring-buffer record:
// ts_ms(8) + symbol_id(2) + exchange_id(1) + side(1) + price_q(4) + qty_q(4).
type CompactLiquidation struct {
	TsMs       uint64
	SymbolID   uint16
	ExchangeID uint8
	Side       Side
	PriceQ     uint32
	QtyQ       uint32

	// TsSynthetic is set when the exchange timestamp was absent or
	// skewed >5s from local clock and ingest time was substituted.
	// In-memory only; never part of the 20-byte wire record.
	TsSynthetic bool
}

// SymbolMeta carries the fixed-point scale needed to recover real values
// from a CompactLiquidation's price_q/qty_q fields.
type SymbolMeta struct {
	PriceScale float64
	QtyScale   float64
}

// ValueUSD recovers price*qty in USD given the symbol's fixed-point scale.
func (c CompactLiquidation) ValueUSD(meta SymbolMeta) float64 {
	price := float64(c.PriceQ) / meta.PriceScale
	qty := float64(c.QtyQ) / meta.QtyScale
	return price * qty
}

// ValueTokens recovers the base-asset quantity.
func (c CompactLiquidation) ValueTokens(meta SymbolMeta) float64 {
	return float64(c.QtyQ) / meta.QtyScale
}

// TimeframeWindow is a rolling window for the cascade detector,
// parameterized by a duration in {100ms,500ms,2s,10s,60s,300s}.
type TimeframeWindow struct {
	events []windowEvent

	EventCount      int
	USDSum          float64
	LongCount       int
	ShortCount      int
	PerExchangeCnt  map[uint8]int
	PerExchangeUSD  map[uint8]float64

	prevEventsPerSec float64
	prevUSDPerSec    float64
	LastUpdateMs     uint64
}

type windowEvent struct {
	tsMs       uint64
	usd        float64
	side       Side
	exchangeID uint8
}

// NewTimeframeWindow constructs an empty window.
func NewTimeframeWindow() *TimeframeWindow {
	return &TimeframeWindow{
		PerExchangeCnt: make(map[uint8]int),
		PerExchangeUSD: make(map[uint8]float64),
	}
}

// Update appends one event and evicts everything older than windowMs
// relative to tsMs. Each event is added exactly once and evicted
// exactly once over its lifetime, so repeated calls are O(1) amortized
// regardless of how long the window has been running.
func (w *TimeframeWindow) Update(tsMs uint64, usd float64, side Side, exchangeID uint8, windowMs uint64) {
	w.prevEventsPerSec, w.prevUSDPerSec = w.eventsPerSecLocked(windowMs), w.usdPerSecLocked(windowMs)
	w.events = append(w.events, windowEvent{tsMs: tsMs, usd: usd, side: side, exchangeID: exchangeID})
	w.EventCount++
	w.USDSum += usd
	if side == SideLong {
		w.LongCount++
	} else {
		w.ShortCount++
	}
	w.PerExchangeCnt[exchangeID]++
	w.PerExchangeUSD[exchangeID] += usd

	cutoff := int64(tsMs) - int64(windowMs)
	evicted := 0
	for evicted < len(w.events) && int64(w.events[evicted].tsMs) < cutoff {
		e := w.events[evicted]
		w.EventCount--
		w.USDSum -= e.usd
		if e.side == SideLong {
			w.LongCount--
		} else {
			w.ShortCount--
		}
		w.PerExchangeCnt[e.exchangeID]--
		w.PerExchangeUSD[e.exchangeID] -= e.usd
		evicted++
	}
	if evicted > 0 {
		w.events = w.events[evicted:]
	}

	w.LastUpdateMs = tsMs
}

func (w *TimeframeWindow) eventsPerSecLocked(windowMs uint64) float64 {
	if windowMs == 0 {
		return 0
	}
	return float64(w.EventCount) / (float64(windowMs) / 1000)
}

func (w *TimeframeWindow) usdPerSecLocked(windowMs uint64) float64 {
	if windowMs == 0 {
		return 0
	}
	return w.USDSum / (float64(windowMs) / 1000)
}

// Velocity returns the current events/sec rate.
func (w *TimeframeWindow) Velocity(windowMs uint64) float64 {
	return w.eventsPerSecLocked(windowMs)
}

// Acceleration returns the second derivative of event rate: the change
// in events/sec since the previous Update, divided by the window
// duration in seconds.
func (w *TimeframeWindow) Acceleration(windowMs uint64) float64 {
	durationSec := float64(windowMs) / 1000
	if durationSec == 0 {
		return 0
	}
	return (w.eventsPerSecLocked(windowMs) - w.prevEventsPerSec) / durationSec
}

// VolumePerSec returns the current USD/sec rate.
func (w *TimeframeWindow) VolumePerSec(windowMs uint64) float64 {
	return w.usdPerSecLocked(windowMs)
}

// ExchangeShares returns each exchange's fractional share of USDSum.
func (w *TimeframeWindow) ExchangeShares() map[uint8]float64 {
	shares := make(map[uint8]float64, len(w.PerExchangeUSD))
	if w.USDSum <= 0 {
		return shares
	}
	for ex, usd := range w.PerExchangeUSD {
		shares[ex] = usd / w.USDSum
	}
	return shares
}

// EventShares returns each exchange's fractional share of EventCount,
// the input to the cross-exchange entropy/correlation term (correlation
// is computed from event-count concentration, not USD value).
func (w *TimeframeWindow) EventShares() map[uint8]float64 {
	shares := make(map[uint8]float64, len(w.PerExchangeCnt))
	if w.EventCount <= 0 {
		return shares
	}
	for ex, cnt := range w.PerExchangeCnt {
		shares[ex] = float64(cnt) / float64(w.EventCount)
	}
	return shares
}
