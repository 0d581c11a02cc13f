// Package stats implements the small set of frequentist statistics used to
// judge A/B experiments on proportions.
//
// All functions are pure and safe for concurrent use. Inputs that would
// otherwise divide by zero (no trials, zero pooled variance) produce neutral
// results instead of NaN: an empty interval at zero, a z-score of zero and a
// p-value of one.
//
// # Intervals
//
//	ci := stats.Wilson(120, 500, stats.Z95)
//	fmt.Println(ci.Lower, ci.Upper)
//
// Wilson is the interval of choice for conversion rates because it stays
// inside [0, 1] and behaves well for small samples. NormalApprox is the
// textbook Wald interval and is kept for averaged metrics.
//
// # Hypothesis testing
//
//	res := stats.TwoProportionZTest(100, 500, 140, 500)
//	if res.PValue < 0.05 {
//		// treatment differs from control
//	}
//
// # Power analysis
//
//	n := stats.RequiredSampleSize(0.20, 0.05, 0.95, 0.80)
//
// returns the participants needed per variant to detect an absolute lift of
// five points over a 20% baseline.
package stats
