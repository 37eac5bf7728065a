package cascade

import "math"

// shannonEntropy computes H(p) = -sum(p_i * log(p_i)) over a probability
// distribution given as shares (need not be pre-normalized; zero and
// negative shares are skipped).
func shannonEntropy(shares map[uint8]float64) float64 {
	var h float64
	for _, p := range shares {
		if p <= 0 {
			continue
		}
		h -= p * math.Log(p)
	}
	return h
}

// crossExchangeCorrelation returns 1 - H(p)/log(N): concentration in a
// single exchange (low entropy) yields correlation near 1, an even
// spread across exchanges (maximal entropy) yields correlation near 0.
// N is the count of exchanges carrying non-zero share. Fewer than two
// active exchanges makes entropy undefined, so a single active exchange
// is treated as maximal correlation and zero active exchanges as none.
func crossExchangeCorrelation(shares map[uint8]float64) float64 {
	n := 0
	for _, p := range shares {
		if p > 0 {
			n++
		}
	}
	switch {
	case n == 0:
		return 0
	case n == 1:
		return 1
	}
	h := shannonEntropy(shares)
	return 1 - h/math.Log(float64(n))
}
