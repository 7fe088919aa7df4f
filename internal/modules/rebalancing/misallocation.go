package rebalancing

import (
	"math"
)

// Misallocation measures how far a holding is from its ideal share count.
type Misallocation struct {
	Delta    int     // ideal minus current shares
	Dollars  float64 // |delta| * price
	Fraction float64 // |delta| / |current|; +Inf when nothing is held
}

// MeasureMisallocation compares current and ideal holdings at price.
func MeasureMisallocation(current, ideal int, price float64) Misallocation {
	delta := ideal - current
	abs := math.Abs(float64(delta))

	frac := 0.0
	switch {
	case delta == 0:
	case current == 0:
		frac = math.Inf(1)
	default:
		frac = abs / math.Abs(float64(current))
	}

	return Misallocation{
		Delta:    delta,
		Dollars:  abs * price,
		Fraction: frac,
	}
}

// ForcingThresholds parameterizes the fraction floor.
type ForcingThresholds struct {
	MinDollars  float64 // dollar floor
	MinFraction float64 // fraction floor F, as a fraction (not percent)
	Elbow       float64 // dollar magnitude E past which the fraction floor decays
	Coef        float64 // decay exponent C
}

// FractionThreshold is the effective fraction floor for a misallocation of
// dollars: F up to the elbow, then F*(E/dollars)^C. It decreases
// monotonically past the elbow and never goes negative.
func (f ForcingThresholds) FractionThreshold(dollars float64) float64 {
	if dollars <= f.Elbow {
		return f.MinFraction
	}
	return f.MinFraction * math.Pow(f.Elbow/dollars, f.Coef)
}

// NeedsAction reports whether m is large enough, in both dollars and
// fraction, to trade on.
func (f ForcingThresholds) NeedsAction(m Misallocation) bool {
	if m.Delta == 0 {
		return false
	}
	return m.Dollars > f.MinDollars && m.Fraction > f.FractionThreshold(m.Dollars)
}
