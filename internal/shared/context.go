package shared

import "context"

// Identity carries the tenant and acting user for a request. The core
// propagates both into every record it creates for audit; it performs
// no further validation on them.
type Identity struct {
	CompanyID int64
	ActorID   int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the request identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the request identity from context.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}
