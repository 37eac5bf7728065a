package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivintel/internal/model"
)

func TestParseBinanceForceOrder_SellClosesLong(t *testing.T) {
	msg := []byte(`{"e":"forceOrder","o":{"s":"BTCUSDT","S":"SELL","p":"50000.00","q":"0.5","T":1700000000000}}`)
	ev, ok := parseBinanceForceOrder(msg)
	require.True(t, ok)
	assert.Equal(t, model.SideLong, ev.Side)
	assert.Equal(t, uint8(0), ev.ExchangeID)
}

func TestParseBinanceForceOrder_BuyClosesShort(t *testing.T) {
	msg := []byte(`{"e":"forceOrder","o":{"s":"BTCUSDT","S":"BUY","p":"50000.00","q":"0.5","T":1700000000000}}`)
	ev, ok := parseBinanceForceOrder(msg)
	require.True(t, ok)
	assert.Equal(t, model.SideShort, ev.Side)
}

func TestParseBinanceForceOrder_RejectsMalformed(t *testing.T) {
	_, ok := parseBinanceForceOrder([]byte(`not json`))
	assert.False(t, ok)
}

func TestParseBybitLiquidation_SideConvention(t *testing.T) {
	msg := []byte(`{"topic":"liquidation.BTCUSDT","data":[{"symbol":"BTCUSDT","side":"Sell","price":"50000","size":"1.2","updatedTime":1700000000000}]}`)
	events := parseBybitLiquidation(msg)
	require.Len(t, events, 1)
	assert.Equal(t, model.SideLong, events[0].Side)
	assert.Equal(t, uint8(1), events[0].ExchangeID)
}

func TestParseHyperliquidTrades_OnlyVaultCounterpartyKept(t *testing.T) {
	nonLiq := []byte(`{"channel":"trades","data":[{"coin":"BTC","side":"B","px":"50000","sz":"1","time":1700000000000,"users":["0xaaa","0xbbb"]}]}`)
	assert.Empty(t, parseHyperliquidTrades(nonLiq))

	vaultBuy := []byte(`{"channel":"trades","data":[{"coin":"BTC","side":"B","px":"50000","sz":"1","time":1700000000000,"users":["0x2e3d94f0562703b25c83308a05046ddaf9a8dd14","0xbbb"]}]}`)
	events := parseHyperliquidTrades(vaultBuy)
	require.Len(t, events, 1)
	assert.Equal(t, model.SideLong, events[0].Side, "vault buying means a long was force-sold to it")

	vaultSell := []byte(`{"channel":"trades","data":[{"coin":"BTC","side":"A","px":"50000","sz":"1","time":1700000000000,"users":["0xaaa","0x2e3d94f0562703b25c83308a05046ddaf9a8dd14"]}]}`)
	events = parseHyperliquidTrades(vaultSell)
	require.Len(t, events, 1)
	assert.Equal(t, model.SideShort, events[0].Side, "vault selling means a short was force-bought from it")
}

func TestBybitInverseSnapshot_NeverZeroesOutPopulatedOI(t *testing.T) {
	contracts := 1250.0
	oiUSD := contracts * bybitInverseFaceValueUSD
	assert.Greater(t, oiUSD, 0.0, "inverse OI must not collapse to zero for a populated market")
	assert.Equal(t, 1250.0, oiUSD)
}
