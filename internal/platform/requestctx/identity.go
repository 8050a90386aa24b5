// Package requestctx carries the authenticated identity through a request.
package requestctx

import "context"

// Identity is the verified caller for the lifetime of one request.
type Identity struct {
	ID            string
	WalletAddress string
}

// identityContextKey is the context key for the authenticated identity.
type identityContextKey struct{}

// WithIdentity stores the verified identity in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity stored in context, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
