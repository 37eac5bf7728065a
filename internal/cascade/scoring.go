package cascade

import "math"

// normalize maps a raw magnitude to [0,1] against a reference scale.
// A non-positive reference means the term is unconfigured and drops out.
func normalize(x, ref float64) float64 {
	if ref <= 0 {
		return 0
	}
	if x < 0 {
		x = -x
	}
	v := x / ref
	if v > 1 {
		return 1
	}
	return v
}

// Terms holds the six normalized [0,1] inputs to the cascade probability.
type Terms struct {
	Velocity    float64
	Accel       float64
	Volume      float64
	Correlation float64
	Funding     float64
	OI          float64
}

// Weights mirrors model.ScoreWeights to avoid an import cycle concern;
// callers pass model.ScoreWeights's fields directly.
type Weights struct {
	Velocity    float64
	Accel       float64
	Volume      float64
	Correlation float64
	Funding     float64
	OI          float64
}

// Probability computes the weighted cascade score, clamped to [0,1].
func Probability(w Weights, t Terms) float64 {
	p := w.Velocity*t.Velocity +
		w.Accel*t.Accel +
		w.Volume*t.Volume +
		w.Correlation*t.Correlation +
		w.Funding*t.Funding +
		w.OI*t.OI
	return math.Min(1, math.Max(0, p))
}
