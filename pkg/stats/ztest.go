package stats

import "math"

// ZTestResult is the outcome of a two-proportion z-test.
type ZTestResult struct {
	ControlRate   float64
	TreatmentRate float64
	PooledRate    float64
	StandardError float64
	ZScore        float64
	PValue        float64
}

// TwoProportionZTest compares the success proportions of a control and a
// treatment group using the pooled standard error. The z-score is the absolute
// difference, so swapping the groups does not change the p-value.
// Degenerate input (empty group, pooled rate of 0 or 1) yields z=0 and p=1.
func TwoProportionZTest(controlSuccesses, controlTrials, treatmentSuccesses, treatmentTrials int64) ZTestResult {
	res := ZTestResult{PValue: 1}
	if controlTrials <= 0 || treatmentTrials <= 0 {
		return res
	}
	s1 := float64(min(max(controlSuccesses, 0), controlTrials))
	s2 := float64(min(max(treatmentSuccesses, 0), treatmentTrials))
	n1 := float64(controlTrials)
	n2 := float64(treatmentTrials)

	res.ControlRate = s1 / n1
	res.TreatmentRate = s2 / n2
	res.PooledRate = (s1 + s2) / (n1 + n2)
	res.StandardError = math.Sqrt(res.PooledRate * (1 - res.PooledRate) * (1/n1 + 1/n2))
	if res.StandardError == 0 || math.IsNaN(res.StandardError) {
		res.StandardError = 0
		return res
	}

	res.ZScore = math.Abs(res.TreatmentRate-res.ControlRate) / res.StandardError
	res.PValue = TwoTailedPValue(res.ZScore)
	return res
}
