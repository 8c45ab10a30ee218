package domain

// RemoveAccountPolicies filters the account's credential-scope tokens out
// of a principal's policy set, preserving every unrelated policy untouched
// (including names that are not parseable tokens). The second return
// reports whether anything was removed.
func RemoveAccountPolicies(policies []string, accountID, name string) ([]string, bool) {
	kept := make([]string, 0, len(policies))
	changed := false
	for _, p := range policies {
		tok, err := ParseToken(p)
		if err == nil && tok.Matches(accountID, name) {
			changed = true
			continue
		}
		kept = append(kept, p)
	}
	return kept, changed
}

// ReplaceAccountPolicy removes any existing credential-scope tokens for the
// account from the policy set and appends the token at the given level. A
// principal holds at most one token per account.
func ReplaceAccountPolicy(policies []string, level Level, accountID, name string) []string {
	kept, _ := RemoveAccountPolicies(policies, accountID, name)
	return append(kept, AccountToken(level, accountID, name).String())
}
