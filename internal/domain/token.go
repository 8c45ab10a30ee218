package domain

import (
	"regexp"
	"strings"
)

// Level is an access level carried by a policy token.
type Level string

// Access levels, encoded as single-character codes in token strings.
const (
	LevelRead  Level = "r"
	LevelWrite Level = "w"
	LevelDeny  Level = "d"
	LevelOwner Level = "o"
)

// AccountScope is the token scope for service-account credential access.
const AccountScope = "iamsvcacc"

// AdminToken is the scope-wide administrative capability. A principal
// holding it bypasses per-account token matching entirely.
var AdminToken = PolicyToken{Level: LevelOwner, Scope: "iamportal", ResourceID: "admin"}

// conflictRank orders levels for conflict resolution among tokens matching
// the same resource. An explicit deny overrides weaker positive grants, but
// owner outranks deny: the owner manages deny policy itself.
var conflictRank = map[Level]int{
	LevelRead:  1,
	LevelWrite: 2,
	LevelDeny:  3,
	LevelOwner: 4,
}

// grantRank orders levels for comparison against a required level. Deny has
// no rank here: it never satisfies any requirement.
var grantRank = map[Level]int{
	LevelRead:  1,
	LevelWrite: 2,
	LevelOwner: 3,
}

// Valid reports whether l is one of the four known level codes.
func (l Level) Valid() bool {
	_, ok := conflictRank[l]
	return ok
}

// OverridesInConflict reports whether l wins over other when both match the
// same resource.
func (l Level) OverridesInConflict(other Level) bool {
	return conflictRank[l] > conflictRank[other]
}

// Satisfies reports whether a grant at level l meets the required level.
// Deny satisfies nothing.
func (l Level) Satisfies(required Level) bool {
	if l == LevelDeny {
		return false
	}
	return grantRank[l] >= grantRank[required]
}

// PolicyToken is an immutable capability descriptor of the form
// <level>_<scope>_<resourceId>[_<subResourceId>]. Equality is structural.
type PolicyToken struct {
	Level         Level
	Scope         string
	ResourceID    string
	SubResourceID string
}

var tokenPattern = regexp.MustCompile(`^[rwdo]_[a-z]+_[A-Za-z0-9]+(_[A-Za-z0-9]+)?$`)

// ParseToken parses a token string. Incidental whitespace (observed in real
// tokens) is trimmed before matching. Malformed input yields a
// ValidationError.
func ParseToken(s string) (PolicyToken, error) {
	s = strings.TrimSpace(s)
	if !tokenPattern.MatchString(s) {
		return PolicyToken{}, ErrValidation("malformed policy token %q", s)
	}
	parts := strings.SplitN(s, "_", 4)
	t := PolicyToken{
		Level:      Level(parts[0]),
		Scope:      parts[1],
		ResourceID: parts[2],
	}
	if len(parts) == 4 {
		t.SubResourceID = parts[3]
	}
	return t, nil
}

// String renders the token in its wire form. It is the inverse of
// ParseToken: ParseToken(t.String()) == t for every valid token.
func (t PolicyToken) String() string {
	s := string(t.Level) + "_" + t.Scope + "_" + t.ResourceID
	if t.SubResourceID != "" {
		s += "_" + t.SubResourceID
	}
	return s
}

// Matches reports whether the token grants on the account credential scope
// for the given account identity.
func (t PolicyToken) Matches(accountID, name string) bool {
	return t.Scope == AccountScope && t.ResourceID == accountID && t.SubResourceID == name
}

// AccountToken builds the credential-scope token for one account at the
// given level.
func AccountToken(level Level, accountID, name string) PolicyToken {
	return PolicyToken{Level: level, Scope: AccountScope, ResourceID: accountID, SubResourceID: name}
}

// AccountPolicyNames returns the four capability policy names created for
// an onboarded account, one per level.
func AccountPolicyNames(accountID, name string) []string {
	levels := []Level{LevelRead, LevelWrite, LevelDeny, LevelOwner}
	names := make([]string, 0, len(levels))
	for _, l := range levels {
		names = append(names, AccountToken(l, accountID, name).String())
	}
	return names
}
