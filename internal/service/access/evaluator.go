// Package access implements policy-token evaluation for service-account
// operations.
package access

import "tvault-control/internal/domain"

// Evaluator computes effective access levels from a principal's policy
// tokens. It is a pure function over the supplied token list; it performs
// no lookups and never errors — absence of a matching token simply yields
// granted=false.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Authorize reports whether the token set grants the required level on the
// account (accountID, name).
//
// The admin token bypasses per-account matching entirely. Otherwise the
// single effective level among matching tokens is picked by the conflict
// order owner > deny > write > read, then compared against required using
// owner >= write >= read; an effective deny fails regardless of required.
func (e *Evaluator) Authorize(tokens []domain.PolicyToken, accountID, name string, required domain.Level) (bool, domain.Level) {
	effective, found := e.EffectiveLevel(tokens, accountID, name)
	if !found {
		return false, ""
	}
	return effective.Satisfies(required), effective
}

// EffectiveLevel resolves the single effective level the token set holds on
// the account, applying the admin bypass and the conflict order. The second
// return is false when no token applies.
func (e *Evaluator) EffectiveLevel(tokens []domain.PolicyToken, accountID, name string) (domain.Level, bool) {
	var effective domain.Level
	found := false
	for _, t := range tokens {
		if t == domain.AdminToken {
			return domain.LevelOwner, true
		}
		if !t.Matches(accountID, name) {
			continue
		}
		if !found || t.Level.OverridesInConflict(effective) {
			effective = t.Level
			found = true
		}
	}
	return effective, found
}
