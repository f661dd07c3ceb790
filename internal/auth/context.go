// ABOUTME: Authenticated principal carried through request contexts
// ABOUTME: Provides WithPrincipal/FromContext for handlers behind the auth middleware

package auth

import "context"

// Principal is the authenticated identity bound to a request or connection.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type principalKey struct{}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
