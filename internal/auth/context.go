package auth

import "context"

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the principal from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Can reports whether the context's principal holds the permission.
func Can(ctx context.Context, permission string) bool {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return false
	}
	return HasPermission(p.Roles, permission)
}
