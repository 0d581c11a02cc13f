package stats

import "math"

// Z95 is the two-sided critical value of the standard normal distribution at 95% confidence.
const Z95 = 1.96

// NormalCDF returns P(Z <= x) for a standard normal variable.
func NormalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// NormalQuantile is the inverse of NormalCDF. p must be in (0, 1);
// values outside that range are clamped to ±Inf.
func NormalQuantile(p float64) float64 {
	switch {
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	}
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// TwoTailedPValue converts a z-score into a two-tailed p-value.
func TwoTailedPValue(z float64) float64 {
	p := 2 * (1 - NormalCDF(math.Abs(z)))
	return clamp(p, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
