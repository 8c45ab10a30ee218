package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"tvault-control/internal/domain"
)

// Authenticate validates the Bearer token and stores the caller in the
// request context as a domain.ContextPrincipal. The principal's policy
// names are parsed into policy tokens; names that are not tokens (store
// defaults, unrelated policies) are skipped.
func Authenticate(validator JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w)
				return
			}

			claims, err := validator.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeUnauthorized(w)
				return
			}

			principal := domain.ContextPrincipal{Name: claims.Subject}
			if claims.Name != nil && *claims.Name != "" {
				principal.Name = *claims.Name
			}
			if claims.Email != nil {
				principal.Email = *claims.Email
			}
			if principal.Name == "" {
				writeUnauthorized(w)
				return
			}
			for _, policy := range claims.Policies {
				token, err := domain.ParseToken(policy)
				if err != nil {
					continue
				}
				principal.Tokens = append(principal.Tokens, token)
			}

			ctx := domain.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    401,
		"message": "unauthorized: provide a valid JWT Bearer token",
	})
}
