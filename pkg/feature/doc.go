// Package feature implements feature flags with weighted variants, typed
// targeting rules and deterministic percentage rollouts.
//
// # Evaluation
//
// EvaluateFlag is a pure function of a flag definition, a user ID and the
// user's context attributes. It checks, in order, that the flag is enabled,
// that every enabled targeting rule matches, and that the user falls inside
// the rollout. Users are bucketed with xxHash: hash(userID) mod 100 for the
// rollout and hash(userID+flagName) mod 10000 for the variant. A user stays in
// the same bucket for as long as the flag configuration is unchanged;
// editing weights or the rollout moves only the users whose bucket crosses
// a boundary.
//
// Engine wraps EvaluateFlag with a FlagReader, a decision Cache, a
// UsageTracker and evaluation hooks. It never returns an error: a missing flag
// yields ReasonNotFound and any fault yields a disabled decision with
// ReasonEvaluationError.
//
//	engine := feature.NewEngine(store,
//	    feature.WithCache(feature.NewMemoryCache(10_000)),
//	    feature.WithEngineLogger(log),
//	)
//	ev := engine.Evaluate(ctx, "new_checkout", userID, map[string]any{"plan": "pro"})
//	if ev.Enabled && ev.VariantName() == "treatment" {
//	    // ...
//	}
//
// # Targeting
//
// Conditions form a closed set of typed operators (Equals, NotEquals, In,
// NotIn, GreaterThan, LessThan, Contains). ParseCondition builds one from an
// operator name and a JSON value and rejects values that do not fit the
// operator. An attribute missing from the context fails every operator.
//
// # Writes
//
// Registry validates definitions and updates, writes them through a Store and
// invalidates cached decisions of the affected flag. MemoryStore and
// PostgresStore implement Store; flag names are unique among non-archived
// flags and archiving is a soft delete.
package feature
