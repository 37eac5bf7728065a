// Package profile computes per-timeframe volume profile, TPO, and
// session VWAP snapshots from a candle series. Pure, allocation-light
// math grounded on the cascade package's normalize/clamp style: no
// I/O, no locking, safe to call concurrently per call.
package profile

import (
	"time"

	"github.com/sawpanic/derivintel/internal/model"
)

const valueAreaTarget = 0.70
const tpoLevels = 100

// Compute builds a ProfileSnapshot for symbol/timeframe from candles.
// candles must be in ascending TsOpen order; Compute does not sort.
func Compute(symbol, timeframe string, candles []model.Candle) model.ProfileSnapshot {
	snap := model.ProfileSnapshot{Symbol: symbol, Timeframe: timeframe, CandleCount: len(candles)}
	if len(candles) < 2 {
		snap.InsufficientData = true
		return snap
	}

	cfg, ok := model.Timeframes[timeframe]
	bins := 20
	if ok {
		bins = cfg.Bins
	}

	lo, hi := priceRange(candles)
	snap.SessionStartUTC = sessionStartUTC(candles[len(candles)-1].TsOpen)
	snap.SessionVWAP = sessionVWAP(candles, snap.SessionStartUTC)

	if hi == lo {
		snap.POC, snap.VAH, snap.VAL = hi, hi, hi
		snap.ValueAreaPct = 100
		snap.TPOPOC, snap.TPOVAH, snap.TPOVAL = hi, hi, hi
		snap.TPOValueAreaPct = 100
		return snap
	}

	vpVolumes := binVolumeProfile(candles, lo, hi, bins)
	poc, vah, val, vaPct := valueArea(vpVolumes, lo, hi, bins)
	snap.POC, snap.VAH, snap.VAL, snap.ValueAreaPct = poc, vah, val, vaPct

	tpoCounts := binTPO(candles, lo, hi, tpoLevels)
	tpoc, tvah, tval, tvaPct := valueArea(tpoCounts, lo, hi, tpoLevels)
	snap.TPOPOC, snap.TPOVAH, snap.TPOVAL, snap.TPOValueAreaPct = tpoc, tvah, tval, tvaPct

	return snap
}

func priceRange(candles []model.Candle) (lo, hi float64) {
	lo, hi = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	return lo, hi
}

// binVolumeProfile spreads each candle's volume across the bins it
// overlaps, proportional to the fraction of (high-low) covered.
func binVolumeProfile(candles []model.Candle, lo, hi float64, bins int) []float64 {
	width := (hi - lo) / float64(bins)
	out := make([]float64, bins)

	for _, c := range candles {
		if c.High == c.Low {
			idx := binIndex(c.Close, lo, width, bins)
			out[idx] += c.Volume
			continue
		}
		span := c.High - c.Low
		for i := 0; i < bins; i++ {
			binLo := lo + float64(i)*width
			binHi := binLo + width
			overlap := overlapLen(c.Low, c.High, binLo, binHi)
			if overlap <= 0 {
				continue
			}
			out[i] += c.Volume * (overlap / span)
		}
	}
	return out
}

// binTPO counts, for each of 100 uniform price levels, the number of
// candles whose [low, high] range intersects that level's bin.
func binTPO(candles []model.Candle, lo, hi float64, levels int) []float64 {
	width := (hi - lo) / float64(levels)
	out := make([]float64, levels)

	for _, c := range candles {
		for i := 0; i < levels; i++ {
			binLo := lo + float64(i)*width
			binHi := binLo + width
			if overlapLen(c.Low, c.High, binLo, binHi) > 0 || (c.High == c.Low && c.High >= binLo && c.High < binHi) {
				out[i]++
			}
		}
	}
	return out
}

func overlapLen(aLo, aHi, bLo, bHi float64) float64 {
	lo := aLo
	if bLo > lo {
		lo = bLo
	}
	hi := aHi
	if bHi < hi {
		hi = bHi
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func binIndex(price, lo, width float64, bins int) int {
	if width <= 0 {
		return 0
	}
	idx := int((price - lo) / width)
	if idx < 0 {
		idx = 0
	}
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}

// valueArea finds the POC bin and expands outward until accumulated
// weight reaches valueAreaTarget of the total: at each step compare the
// two-bin sum above vs below and extend toward the larger.
func valueArea(weights []float64, lo, hi float64, bins int) (poc, vah, val, pct float64) {
	width := (hi - lo) / float64(bins)
	total := 0.0
	pocIdx := 0
	for i, w := range weights {
		total += w
		if w > weights[pocIdx] {
			pocIdx = i
		}
	}
	poc = lo + (float64(pocIdx)+0.5)*width

	if total <= 0 {
		return (lo + hi) / 2, hi, lo, 0
	}

	loIdx, hiIdx := pocIdx, pocIdx
	acc := weights[pocIdx]
	target := total * valueAreaTarget

	for acc < target && (loIdx > 0 || hiIdx < bins-1) {
		upSum := twoBinSum(weights, hiIdx+1, bins, true)
		downSum := twoBinSum(weights, loIdx-1, bins, false)
		if upSum >= downSum {
			n := extend(weights, hiIdx+1, bins, true, &acc)
			hiIdx += n
			if n == 0 {
				loIdx -= extend(weights, loIdx-1, bins, false, &acc)
			}
		} else {
			n := extend(weights, loIdx-1, bins, false, &acc)
			loIdx -= n
			if n == 0 {
				hiIdx += extend(weights, hiIdx+1, bins, true, &acc)
			}
		}
		if loIdx <= 0 && hiIdx >= bins-1 {
			break
		}
	}

	val = lo + float64(loIdx)*width
	vah = lo + float64(hiIdx+1)*width
	pct = (acc / total) * 100
	return poc, vah, val, pct
}

// twoBinSum sums up to two bins starting at idx, moving outward
// (up=true means increasing index), without mutating anything.
func twoBinSum(weights []float64, idx, bins int, up bool) float64 {
	sum := 0.0
	count := 0
	for count < 2 {
		if idx < 0 || idx >= bins {
			break
		}
		sum += weights[idx]
		if up {
			idx++
		} else {
			idx--
		}
		count++
	}
	return sum
}

// extend consumes up to two bins from idx outward into acc, returning
// how many bins were actually consumed.
func extend(weights []float64, idx, bins int, up bool, acc *float64) int {
	consumed := 0
	for consumed < 2 {
		if idx < 0 || idx >= bins {
			break
		}
		*acc += weights[idx]
		consumed++
		if up {
			idx++
		} else {
			idx--
		}
	}
	return consumed
}

// sessionStartUTC is the midnight-UTC boundary of the day containing t,
// used uniformly across every timeframe.
func sessionStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func sessionVWAP(candles []model.Candle, sessionStart time.Time) float64 {
	var num, den float64
	for _, c := range candles {
		if c.TsOpen.Before(sessionStart) {
			continue
		}
		typical := (c.High + c.Low + c.Close) / 3
		num += typical * c.Volume
		den += c.Volume
	}
	if den == 0 {
		return 0
	}
	return num / den
}
