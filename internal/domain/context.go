package domain

import "context"

type principalKey struct{}

// ContextPrincipal carries the authenticated identity and its current
// policy-token set through request context. It is always passed explicitly;
// nothing in the control plane reads process-wide state.
type ContextPrincipal struct {
	Name   string
	Email  string
	Tokens []PolicyToken
}

// IsAdmin reports whether the principal holds the administrative token.
func (p ContextPrincipal) IsAdmin() bool {
	for _, t := range p.Tokens {
		if t == AdminToken {
			return true
		}
	}
	return false
}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}
