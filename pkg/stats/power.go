package stats

import "math"

// RequiredSampleSize returns the participants needed per group to detect an
// absolute lift of mde over the baseline rate with a two-sided test at the
// given confidence level and power:
//
//	n = [zα·sqrt(2·p̄(1−p̄)) + zβ·sqrt(p1(1−p1)+p2(1−p2))]² / (p2−p1)²
//
// where p2 = baseline + mde and p̄ = (p1+p2)/2. The target rate is capped just
// below 1. It returns 0 when mde is not positive or the parameters are outside
// (0, 1).
func RequiredSampleSize(baseline, mde, confidence, power float64) int64 {
	if mde <= 0 || confidence <= 0 || confidence >= 1 || power <= 0 || power >= 1 {
		return 0
	}
	p1 := clamp(baseline, 0, 1)
	p2 := math.Min(p1+mde, 0.9999)
	if p2 <= p1 {
		return 0
	}

	zAlpha := NormalQuantile(1 - (1-confidence)/2)
	zBeta := NormalQuantile(power)
	pBar := (p1 + p2) / 2

	num := zAlpha*math.Sqrt(2*pBar*(1-pBar)) + zBeta*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	diff := p2 - p1
	return int64(math.Ceil(num * num / (diff * diff)))
}
