package liquidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/derivintel/internal/model"
)

func TestIngest_DropsEventsBelowFloor(t *testing.T) {
	ing := NewIngestor(1000)
	ing.RegisterSymbolMeta(1, model.SymbolMeta{PriceScale: 100, QtyScale: 1000})

	ing.Ingest("BTC", model.CompactLiquidation{
		TsMs: uint64(time.Now().UTC().UnixMilli()), SymbolID: 1,
		PriceQ: 100 * 100, QtyQ: 1 * 1000, // price=100, qty=1 -> $100, below $1000 floor
	})

	assert.Equal(t, 0, ing.BufferFor("BTC").Len())
}

func TestIngest_KeepsEventsAboveFloor(t *testing.T) {
	ing := NewIngestor(1000)
	ing.RegisterSymbolMeta(1, model.SymbolMeta{PriceScale: 100, QtyScale: 1000})

	ing.Ingest("BTC", model.CompactLiquidation{
		TsMs: uint64(time.Now().UTC().UnixMilli()), SymbolID: 1,
		PriceQ: 50000 * 100, QtyQ: 1 * 1000, // $50,000
	})

	assert.Equal(t, 1, ing.BufferFor("BTC").Len())
}

func TestIngest_SubstitutesSyntheticTimestampOnSkew(t *testing.T) {
	ing := NewIngestor(1000)
	ing.RegisterSymbolMeta(1, model.SymbolMeta{PriceScale: 1, QtyScale: 1})

	staleTs := uint64(time.Now().Add(-1 * time.Hour).UTC().UnixMilli())
	ing.Ingest("BTC", model.CompactLiquidation{
		TsMs: staleTs, SymbolID: 1, PriceQ: 50000, QtyQ: 1,
	})

	events := ing.BufferFor("BTC").Snapshot()
	if assert.Len(t, events, 1) {
		assert.True(t, events[0].Synthetic)
		assert.NotEqual(t, staleTs, events[0].TsMs)
	}
}

func TestRingBuffer_OverwritesOldestPastCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := uint64(0); i < 5; i++ {
		rb.Push(Event{TsMs: i})
	}
	events := rb.Snapshot()
	if assert.Len(t, events, 3) {
		assert.Equal(t, uint64(2), events[0].TsMs)
		assert.Equal(t, uint64(4), events[2].TsMs)
	}
}

func TestSideConversion_BinanceForceOrder(t *testing.T) {
	assert.Equal(t, model.SideLong, BinanceForceOrderSide("SELL"))
	assert.Equal(t, model.SideShort, BinanceForceOrderSide("BUY"))
}

func TestSideConversion_HyperliquidVaultCounterparty(t *testing.T) {
	assert.Equal(t, model.SideLong, HyperliquidLiquidationSide(true))
	assert.Equal(t, model.SideShort, HyperliquidLiquidationSide(false))
}
