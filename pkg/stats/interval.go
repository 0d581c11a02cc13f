package stats

import "math"

// Interval is a closed confidence interval around a point estimate.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Point collapses an interval onto a single value.
func Point(v float64) Interval {
	return Interval{Lower: v, Upper: v}
}

// Contains reports whether v lies inside the interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

// Width returns Upper - Lower.
func (i Interval) Width() float64 {
	return i.Upper - i.Lower
}

// Wilson returns the Wilson score interval for successes out of trials at the
// given critical value, clamped to [0, 1]. Successes above trials are capped.
// With no trials the interval is [0, 0].
func Wilson(successes, trials int64, z float64) Interval {
	if trials <= 0 {
		return Interval{}
	}
	if successes < 0 {
		successes = 0
	}
	if successes > trials {
		successes = trials
	}

	n := float64(trials)
	p := float64(successes) / n
	z2 := z * z
	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom

	lower := clamp(center-margin, 0, 1)
	upper := clamp(center+margin, 0, 1)

	// Rounding can push a bound past the point estimate at p=0 or p=1.
	lower = math.Min(lower, p)
	upper = math.Max(upper, p)
	return Interval{Lower: lower, Upper: upper}
}

// NormalApprox returns rate ± z*sqrt(rate(1-rate)/n). It collapses to the
// point when n is zero or the variance term is not positive.
func NormalApprox(rate float64, n int64, z float64) Interval {
	if n <= 0 {
		return Point(rate)
	}
	v := rate * (1 - rate) / float64(n)
	if v <= 0 || math.IsNaN(v) {
		return Point(rate)
	}
	margin := z * math.Sqrt(v)
	return Interval{Lower: rate - margin, Upper: rate + margin}
}
