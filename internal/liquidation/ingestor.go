// Package liquidation consumes normalized liquidation events from every
// exchange provider's stream, applies the USD floor filter and
// timestamp-skew substitution, and fans each surviving event out to the
// per-symbol ring buffer and any downstream subscribers (the cascade
// detector).
package liquidation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/provider"
)

// DefaultFloorUSD is the minimum liquidation value ingested absent an
// override from the threshold engine.
const DefaultFloorUSD = 1000.0

// maxClockSkew is the maximum tolerated difference between an event's
// reported timestamp and local ingest time before it is treated as
// unreliable and replaced with ingest time (ts_synthetic = true).
const maxClockSkew = 5 * time.Second

// Ingestor owns one ring buffer per symbol and fans filtered events out
// to registered subscribers.
type Ingestor struct {
	floorUSD float64

	mu      sync.RWMutex
	buffers map[string]*RingBuffer
	metas   map[uint16]model.SymbolMeta

	subsMu sync.RWMutex
	subs   []chan model.CompactLiquidation
}

// NewIngestor constructs an Ingestor with the given USD floor (0 uses
// DefaultFloorUSD).
func NewIngestor(floorUSD float64) *Ingestor {
	if floorUSD <= 0 {
		floorUSD = DefaultFloorUSD
	}
	return &Ingestor{
		floorUSD: floorUSD,
		buffers:  make(map[string]*RingBuffer),
		metas:    make(map[uint16]model.SymbolMeta),
	}
}

// RegisterSymbolMeta records the fixed-point scale for a symbol ID, used
// to recover USD value from a CompactLiquidation's quantized fields.
func (ing *Ingestor) RegisterSymbolMeta(symbolID uint16, meta model.SymbolMeta) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ing.metas[symbolID] = meta
}

// Subscribe returns a channel that receives every event surviving the
// floor filter, across all symbols. The caller must keep draining it;
// Subscribe does not apply backpressure itself (the cascade detector's
// BACKPRESSURE diagnostic handles that downstream).
func (ing *Ingestor) Subscribe() <-chan model.CompactLiquidation {
	ch := make(chan model.CompactLiquidation, 4096)
	ing.subsMu.Lock()
	ing.subs = append(ing.subs, ch)
	ing.subsMu.Unlock()
	return ch
}

// BufferFor returns (creating if needed) the ring buffer for symbol.
func (ing *Ingestor) BufferFor(symbol string) *RingBuffer {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	rb, ok := ing.buffers[symbol]
	if !ok {
		rb = NewRingBuffer(DefaultCapacity)
		ing.buffers[symbol] = rb
	}
	return rb
}

// Run subscribes to provider's liquidation stream for symbols and feeds
// every event through Ingest until ctx is cancelled. Providers without a
// liquidation feed return provider.ErrUnsupported, which is logged and
// treated as a no-op rather than a fatal error.
func (ing *Ingestor) Run(ctx context.Context, p provider.Provider, symbols []string) {
	stream, err := p.StreamLiquidations(ctx, symbols)
	if err != nil {
		log.Info().Str("venue", p.Name()).Err(err).Msg("venue has no liquidation feed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			ing.Ingest(symbolForID(ev.SymbolID, symbols), ev)
		}
	}
}

// Ingest applies the skew check and floor filter to ev, then buffers and
// fans it out if it survives. symbol is the human-readable key used for
// the ring buffer map (callers already know it from their own routing).
func (ing *Ingestor) Ingest(symbol string, ev model.CompactLiquidation) {
	now := uint64(time.Now().UTC().UnixMilli())
	if skewMs(now, ev.TsMs) > uint64(maxClockSkew.Milliseconds()) {
		ev.TsMs = now
		ev.TsSynthetic = true
	}

	ing.mu.RLock()
	meta, ok := ing.metas[ev.SymbolID]
	ing.mu.RUnlock()
	if !ok {
		meta = model.SymbolMeta{PriceScale: 1, QtyScale: 1}
	}

	valueUSD := ev.ValueUSD(meta)
	if valueUSD < ing.floorUSD {
		return
	}

	ing.BufferFor(symbol).Push(Event{
		TsMs:       ev.TsMs,
		SymbolID:   ev.SymbolID,
		ExchangeID: ev.ExchangeID,
		Side:       uint8(ev.Side),
		ValueUSD:   valueUSD,
		ValueTok:   ev.ValueTokens(meta),
		Synthetic:  ev.TsSynthetic,
	})

	ing.subsMu.RLock()
	defer ing.subsMu.RUnlock()
	for _, ch := range ing.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("symbol", symbol).Msg("liquidation subscriber channel full, dropping event")
		}
	}
}

func skewMs(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// symbolForID resolves a compact record's symbol_id back to the
// human-readable symbol via the shared process-local registry.
func symbolForID(id uint16, requested []string) string {
	if len(requested) == 1 {
		return requested[0]
	}
	if s, ok := model.SymbolForID(id); ok {
		return s
	}
	return ""
}
