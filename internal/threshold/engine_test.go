package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivintel/internal/model"
)

func TestVolatilityMultiplier_ClampsToRange(t *testing.T) {
	assert.Equal(t, 0.5, volatilityMultiplier(-10))
	assert.Equal(t, 2.0, volatilityMultiplier(10))
	assert.InDelta(t, 1.0, volatilityMultiplier(0.05), 1e-9)
}

func TestCurrentSession_WeekendOverridesHour(t *testing.T) {
	sat := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC) // Saturday
	assert.Equal(t, "weekend", currentSession(sat))
}

func TestCurrentSession_HourBuckets(t *testing.T) {
	mon := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "asian", currentSession(mon))
	assert.Equal(t, "european", currentSession(mon.Add(9*time.Hour)))
	assert.Equal(t, "us", currentSession(mon.Add(15*time.Hour)))
}

func TestGet_FloorsAtFiveThousand(t *testing.T) {
	e := New(nil)
	e.now = func() time.Time { return time.Date(2026, 8, 3, 15, 0, 0, 0, time.UTC) } // us session, mult 1.0
	raw := []byte(`{"symbols":[{"symbol":"MICRO","tier":3,"daily_volume_usd":100000,"realized_vol_7d":0.05}]}`)
	require.NoError(t, e.LoadConfig(raw))

	ts := e.Get("MICRO")
	assert.Equal(t, floorUSD, ts.LiqSingleUSD, "tier-scaled base is below the floor and must be clamped up to it")
}

func TestGet_CascadeIsFiveTimesSingle(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"symbols":[{"symbol":"BTC","tier":0,"daily_volume_usd":1000000000,"realized_vol_7d":0.05}]}`)
	require.NoError(t, e.LoadConfig(raw))
	ts := e.Get("BTC")
	assert.InDelta(t, ts.LiqSingleUSD*5, ts.LiqCascadeUSD, 1e-6)
}

func TestLoadConfig_NoGenerationBumpOnIdenticalReload(t *testing.T) {
	e := New(nil)
	raw := []byte(`{"symbols":[{"symbol":"BTC","tier":0,"daily_volume_usd":1000000000,"realized_vol_7d":0.05}]}`)
	require.NoError(t, e.LoadConfig(raw))
	g1 := e.Generation()
	require.NoError(t, e.LoadConfig(raw))
	assert.Equal(t, g1, e.Generation(), "identical content must not bump the generation")
}

func TestLoadConfig_BumpsGenerationOnChange(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.LoadConfig([]byte(`{"symbols":[{"symbol":"BTC","tier":0,"daily_volume_usd":1000000000}]}`)))
	g1 := e.Generation()
	require.NoError(t, e.LoadConfig([]byte(`{"symbols":[{"symbol":"BTC","tier":0,"daily_volume_usd":2000000000}]}`)))
	assert.Greater(t, e.Generation(), g1)
}

func TestLoadConfig_MalformedKeepsOldGeneration(t *testing.T) {
	e := New(nil)
	require.NoError(t, e.LoadConfig([]byte(`{"symbols":[{"symbol":"BTC","tier":0,"daily_volume_usd":1000000000}]}`)))
	g1 := e.Generation()
	err := e.LoadConfig([]byte(`not json`))
	assert.Error(t, err)
	assert.Equal(t, g1, e.Generation())
}

func TestGet_SatisfiesCascadeThresholdSourceInterface(t *testing.T) {
	var _ interface {
		Get(symbol string) model.ThresholdSet
	} = New(nil)
}
