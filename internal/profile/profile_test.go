package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivintel/internal/model"
)

func candle(open time.Time, h, l, c, v float64) model.Candle {
	return model.Candle{TsOpen: open, High: h, Low: l, Close: c, Volume: v}
}

func TestCompute_InsufficientDataUnderTwoCandles(t *testing.T) {
	snap := Compute("BTC", "1h", []model.Candle{candle(time.Now(), 10, 9, 9.5, 100)})
	assert.True(t, snap.InsufficientData)
}

func TestCompute_DegenerateRangeCollapsesToFlatSnapshot(t *testing.T) {
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		candle(base, 100, 100, 100, 10),
		candle(base.Add(time.Hour), 100, 100, 100, 20),
	}
	snap := Compute("BTC", "1h", candles)
	require.False(t, snap.InsufficientData)
	assert.Equal(t, 100.0, snap.POC)
	assert.Equal(t, 100.0, snap.VAH)
	assert.Equal(t, 100.0, snap.VAL)
	assert.Equal(t, 100.0, snap.ValueAreaPct)
}

func TestCompute_POCAtHighestVolumeBin(t *testing.T) {
	base := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		candle(base, 110, 100, 105, 10),
		candle(base.Add(time.Hour), 120, 110, 115, 1000), // dominant volume near top of range
		candle(base.Add(2*time.Hour), 130, 120, 125, 10),
	}
	snap := Compute("ETH", "1h", candles)
	require.False(t, snap.InsufficientData)
	assert.True(t, snap.VAL <= snap.POC && snap.POC <= snap.VAH, "POC must lie within [VAL, VAH]")
	assert.Greater(t, snap.POC, 105.0, "POC should land in the high-volume middle candle's range")
}

func TestCompute_ValueAreaPctNearTarget(t *testing.T) {
	base := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, 0, 30)
	for i := 0; i < 30; i++ {
		candles = append(candles, candle(base.Add(time.Duration(i)*time.Hour), 100+float64(i), 90+float64(i), 95+float64(i), 50))
	}
	snap := Compute("SOL", "1h", candles)
	assert.GreaterOrEqual(t, snap.ValueAreaPct, 65.0)
	assert.LessOrEqual(t, snap.ValueAreaPct, 100.0)
}

func TestCompute_SessionVWAPOnlyUsesCurrentUTCDay(t *testing.T) {
	todayStart := sessionStartUTC(time.Now())
	candles := []model.Candle{
		candle(todayStart.Add(-time.Hour), 100, 100, 100, 1000), // yesterday, excluded
		candle(todayStart.Add(time.Hour), 110, 90, 100, 10),
		candle(todayStart.Add(2*time.Hour), 120, 100, 110, 10),
	}
	snap := Compute("BTC", "1h", candles)
	assert.Greater(t, snap.SessionVWAP, 0.0)
	assert.True(t, snap.SessionStartUTC.Equal(todayStart))
}

func TestCompute_ZeroVolumeFallsBackToMidpoint(t *testing.T) {
	base := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		candle(base, 110, 100, 105, 0),
		candle(base.Add(time.Hour), 120, 110, 115, 0),
	}
	snap := Compute("BTC", "1h", candles)
	assert.Equal(t, 0.0, snap.ValueAreaPct)
	assert.InDelta(t, (100.0+120.0)/2, snap.POC, 0.01)
}

func TestCompute_TPOIndependentOfVolumeProfile(t *testing.T) {
	base := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	candles := []model.Candle{
		candle(base, 110, 100, 105, 1000),
		candle(base.Add(time.Hour), 120, 110, 115, 1),
		candle(base.Add(2*time.Hour), 130, 120, 125, 1),
	}
	snap := Compute("BTC", "1h", candles)
	assert.True(t, snap.TPOVAL <= snap.TPOPOC && snap.TPOPOC <= snap.TPOVAH)
}
