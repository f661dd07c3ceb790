// ABOUTME: HTTP middleware that authenticates API requests
// ABOUTME: Resolves the caller from bearer header or cookie and stores the principal in context

package auth

import (
	"encoding/json"
	"net/http"
)

// HTTPAuthMiddleware rejects unauthenticated requests with 401 and a JSON
// reason; authenticated requests carry their Principal in the context.
func HTTPAuthMiddleware(resolver *Resolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolver.Authenticate(r.Context(), CredentialFromRequest(r, cookieName))
			if err != nil {
				status := http.StatusUnauthorized
				if Reason(err) == "internal_error" {
					status = http.StatusInternalServerError
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				json.NewEncoder(w).Encode(map[string]string{"error": Reason(err)})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
