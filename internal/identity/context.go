package identity

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the request context.
// The identity is computed once at request entry and threaded through
// explicitly; nothing in this system memoizes it globally.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the resolved identity from the context.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
