package experiment

import "fmt"

const (
	// meaningfulUplift is the relative uplift in percent above which a
	// significant winner counts as a business improvement.
	meaningfulUplift = 5.0
	// earlyStopPValue marks evidence strong enough to consider stopping early.
	earlyStopPValue = 0.01
)

// recommend applies the ordered recommendation rules to a significance result.
func recommend(exp *Experiment, sig Significance) []string {
	recs := []string{}
	if sig.ControlVariant == "" || sig.TreatmentVariant == "" {
		return append(recs, "Add at least two variants with participants to compare before drawing conclusions.")
	}

	switch {
	case !sig.Significant && sig.CurrentSampleSize < sig.RequiredSampleSize:
		msg := fmt.Sprintf(
			"Continue running the experiment: %d more participants per variant are needed to reach %.0f%% power.",
			sig.AdditionalSampleSize, exp.Power*100,
		)
		if sig.DaysToSignificance != nil {
			msg += fmt.Sprintf(" At the current rate that takes about %d more days.", *sig.DaysToSignificance)
		}
		recs = append(recs, msg)

	case !sig.Significant:
		recs = append(recs, fmt.Sprintf(
			"Stop the experiment and keep %q: no significant difference was found with %d participants per variant (p=%.4f).",
			sig.ControlVariant, sig.CurrentSampleSize, sig.PValue,
		))

	case sig.Winner == sig.ControlVariant:
		recs = append(recs, fmt.Sprintf(
			"Keep %q: %q performs %.1f%% worse than the control (p=%.4f).",
			sig.ControlVariant, sig.TreatmentVariant, -sig.Uplift, sig.PValue,
		))

	case sig.Uplift > meaningfulUplift:
		recs = append(recs, fmt.Sprintf(
			"Roll out %q: it beats %q by %.1f%% (p=%.4f), a meaningful business improvement.",
			sig.Winner, sig.ControlVariant, sig.Uplift, sig.PValue,
		))

	default:
		recs = append(recs, fmt.Sprintf(
			"%q is statistically but not practically significant: uplift of %.1f%% (p=%.4f) is below the %.0f%% threshold.",
			sig.Winner, sig.Uplift, sig.PValue, meaningfulUplift,
		))
	}

	if sig.PValue < earlyStopPValue {
		recs = append(recs, fmt.Sprintf("p-value %.4f is below %.2f; early stopping may be considered.", sig.PValue, earlyStopPValue))
	}
	return recs
}
