package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/derivintel/internal/model"
)

type fakeThresholds struct{ set model.ThresholdSet }

func (f fakeThresholds) Get(symbol string) model.ThresholdSet { return f.set }

func defaultThresholds() model.ThresholdSet {
	return model.ThresholdSet{
		CascadeEventsPerSec: 5,
		CascadeAccel:        2,
		CascadeUSDPerSec:    100000,
		FundingExtreme:      3,
		OIChangePct:         0.05,
		Weights:             model.DefaultScoreWeights(),
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, normalize(5, 10))
	assert.Equal(t, 1.0, normalize(20, 10))
	assert.Equal(t, 0.0, normalize(5, 0))
	assert.Equal(t, 0.5, normalize(-5, 10))
}

func TestCrossExchangeCorrelation_SingleExchangeIsMaximal(t *testing.T) {
	shares := map[uint8]float64{0: 1.0}
	assert.Equal(t, 1.0, crossExchangeCorrelation(shares))
}

func TestCrossExchangeCorrelation_UniformSpreadIsZero(t *testing.T) {
	shares := map[uint8]float64{0: 0.5, 1: 0.5}
	assert.InDelta(t, 0.0, crossExchangeCorrelation(shares), 1e-9)
}

func TestSeverityFromProbability_Boundaries(t *testing.T) {
	assert.Equal(t, model.SeverityNone, model.SeverityFromProbability(0.29))
	assert.Equal(t, model.SeverityWatch, model.SeverityFromProbability(0.30))
	assert.Equal(t, model.SeverityAlert, model.SeverityFromProbability(0.50))
	assert.Equal(t, model.SeverityCritical, model.SeverityFromProbability(0.70))
	assert.Equal(t, model.SeverityExtreme, model.SeverityFromProbability(0.90))
}

func TestStateMachine_EmitsOnUpwardTransitionOnly(t *testing.T) {
	sm := NewStateMachine("BTC")
	now := time.Now()

	sig := sm.Observe(0.10, now, 0, "binance")
	assert.Nil(t, sig, "NONE is the starting state, no signal expected")

	sig = sm.Observe(0.35, now, 0.5, "binance")
	if assert.NotNil(t, sig) {
		assert.Equal(t, model.SeverityWatch, sig.Severity)
		assert.False(t, sig.Easing)
	}

	sig = sm.Observe(0.35, now, 0.5, "binance")
	assert.Nil(t, sig, "same severity must not repeat")
}

func TestStateMachine_EasingOnTwoLevelDrop(t *testing.T) {
	sm := NewStateMachine("BTC")
	now := time.Now()
	sm.Observe(0.75, now, 0, "binance") // CRITICAL
	sig := sm.Observe(0.10, now, 0, "binance") // NONE: drop of 3 levels
	if assert.NotNil(t, sig) {
		assert.True(t, sig.Easing)
		assert.Equal(t, model.SeverityNone, sig.Severity)
	}
}

func TestStateMachine_NoSignalOnSingleLevelDrop(t *testing.T) {
	sm := NewStateMachine("BTC")
	now := time.Now()
	sm.Observe(0.75, now, 0, "binance")  // CRITICAL
	sig := sm.Observe(0.55, now, 0, "binance") // ALERT: one level down
	assert.Nil(t, sig)
}

func TestStateMachine_QuietPeriodForcesIdleWithEasing(t *testing.T) {
	sm := NewStateMachine("BTC")
	now := time.Now()
	sm.Observe(0.35, now, 0, "binance")

	sig := sm.CheckQuiet(now.Add(61 * time.Second))
	if assert.NotNil(t, sig) {
		assert.True(t, sig.Easing)
		assert.Equal(t, model.SeverityNone, sig.Severity)
	}
}

func TestDetector_EmitsSignalOnCascadeBurst(t *testing.T) {
	d := New(fakeThresholds{set: defaultThresholds()})
	symbol := "CASCADETEST"
	id := model.SymbolIDFor(symbol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan model.CompactLiquidation, 64)
	go d.Consume(ctx, in)

	base := uint64(time.Now().UTC().UnixMilli())
	for i := 0; i < 20; i++ {
		in <- model.CompactLiquidation{
			TsMs: base + uint64(i*50), SymbolID: id, ExchangeID: 0,
			PriceQ: 50000, QtyQ: 100,
		}
	}

	var sig *model.CascadeSignal
	select {
	case s := <-d.Signals():
		sig = &s
	case <-time.After(500 * time.Millisecond):
	}
	if assert.NotNil(t, sig, "expected a burst of liquidations to raise a cascade signal") {
		assert.NotEmpty(t, sig.LeadingVenue, "leading venue must be identified on emission")
	}
}

// TestScoreLocked_VelocityAndVolumeUseThe2sWindowNotThe10s pins the
// scoring formula to the 2s window. 8 events inside a 700ms span give
// 4 events/sec and 50000 usd/sec over the 2s window; the same events
// over the (no longer used) 10s window would read 5x lower.
func TestScoreLocked_VelocityAndVolumeUseThe2sWindowNotThe10s(t *testing.T) {
	d := New(fakeThresholds{set: model.ThresholdSet{
		CascadeEventsPerSec: 4,
		CascadeUSDPerSec:    50000,
		CascadeAccel:        1000,
		Weights:             model.DefaultScoreWeights(),
	}})
	symbol := "WINDOWTEST"
	st := d.stateFor(symbol)

	base := uint64(1_000_000)
	st.mu.Lock()
	for i := 0; i < 8; i++ {
		ts := base + uint64(i*100)
		for label, durMs := range timeframes {
			st.windows[label].Update(ts, 12500, model.SideLong, 0, durMs)
		}
	}
	terms := d.scoreLocked(st, d.thresholds.Get(symbol))
	st.mu.Unlock()

	assert.InDelta(t, 1.0, terms.Velocity, 1e-9, "8 events / 2s == 4/s, normalized against a ref of 4 saturates at 1.0")
	assert.InDelta(t, 1.0, terms.Volume, 1e-9, "100000 usd / 2s == 50000 usd/s, normalized against a ref of 50000 saturates at 1.0")
}

// TestScoreLocked_AccelUsesMaxOf500msAnd2sWindowsWithDurationDivision
// hand-traces a two-event burst through both the 500ms and 2s windows
// and checks the scoring term against the larger of the two, each
// properly divided by its window duration.
func TestScoreLocked_AccelUsesMaxOf500msAnd2sWindowsWithDurationDivision(t *testing.T) {
	d := New(fakeThresholds{set: model.ThresholdSet{
		CascadeEventsPerSec: 1000,
		CascadeUSDPerSec:    1e9,
		CascadeAccel:        8,
		Weights:             model.DefaultScoreWeights(),
	}})
	symbol := "ACCELTEST"
	st := d.stateFor(symbol)

	st.mu.Lock()
	for _, ts := range []uint64{1_000_000, 1_000_100} {
		for label, durMs := range timeframes {
			st.windows[label].Update(ts, 1, model.SideLong, 0, durMs)
		}
	}
	w500 := st.windows["500ms"]
	w2s := st.windows["2s"]
	terms := d.scoreLocked(st, d.thresholds.Get(symbol))
	st.mu.Unlock()

	// 500ms window: rate 2/s -> 4/s; accel = (4-2)/0.5 = 4.
	assert.InDelta(t, 4.0, w500.Acceleration(timeframes["500ms"]), 1e-9)
	// 2s window: rate 0.5/s -> 1/s; accel = (1-0.5)/2 = 0.25.
	assert.InDelta(t, 0.25, w2s.Acceleration(timeframes["2s"]), 1e-9)
	// max(4, 0.25) = 4; normalize(4, 8) = 0.5.
	assert.InDelta(t, 0.5, terms.Accel, 1e-9)
}

// TestScoreLocked_CorrelationUsesEventCountSharesNotUSD pits a single
// huge-USD, low-count exchange against a tiny-USD, high-count exchange.
// A USD-weighted share would read this as almost fully concentrated
// (correlation near 1); the count-weighted share the spec calls for
// reads it as moderately spread (correlation ~0.53).
func TestScoreLocked_CorrelationUsesEventCountSharesNotUSD(t *testing.T) {
	d := New(fakeThresholds{set: model.ThresholdSet{
		CascadeEventsPerSec: 1000,
		CascadeUSDPerSec:    1e9,
		CascadeAccel:        1000,
		Weights:             model.DefaultScoreWeights(),
	}})
	symbol := "CORRTEST"
	st := d.stateFor(symbol)

	st.mu.Lock()
	for label, durMs := range timeframes {
		st.windows[label].Update(1000, 1_000_000, model.SideLong, 0, durMs)
	}
	for i := 0; i < 9; i++ {
		ts := uint64(1100 + i*10)
		for label, durMs := range timeframes {
			st.windows[label].Update(ts, 1, model.SideLong, 1, durMs)
		}
	}
	terms := d.scoreLocked(st, d.thresholds.Get(symbol))
	st.mu.Unlock()

	assert.InDelta(t, 0.531, terms.Correlation, 0.01)
}

// TestLeadingVenue_PrimarySortIsEventCountTieBreakUSD catches the swap
// between primary key and tie-break: one exchange with a single
// million-dollar event must lose to another with three tiny ones.
func TestLeadingVenue_PrimarySortIsEventCountTieBreakUSD(t *testing.T) {
	w := model.NewTimeframeWindow()
	w.Update(1000, 1_000_000, model.SideLong, 0, 2000)
	w.Update(1100, 10, model.SideLong, 1, 2000)
	w.Update(1200, 10, model.SideLong, 1, 2000)
	w.Update(1300, 10, model.SideLong, 1, 2000)

	assert.Equal(t, "bybit", leadingVenue(w))
}

func TestLeadingVenue_TiesBrokenByUSD(t *testing.T) {
	w := model.NewTimeframeWindow()
	w.Update(1000, 500, model.SideLong, 0, 2000)
	w.Update(1100, 2000, model.SideLong, 1, 2000)

	assert.Equal(t, "bybit", leadingVenue(w))
}
