package shared

import "context"

// UserID is the principal identity attached to a request by whatever
// authentication layer fronts this service.
type UserID string

// Identifier implements the rbac principal contract.
func (u UserID) Identifier() string { return string(u) }

type principalContextKey struct{}

// ContextWithPrincipal stores the acting user identifier in context.
func ContextWithPrincipal(ctx context.Context, userID UserID) context.Context {
	return context.WithValue(ctx, principalContextKey{}, userID)
}

// PrincipalFromContext extracts the acting user identifier, if any.
func PrincipalFromContext(ctx context.Context) (UserID, bool) {
	userID, ok := ctx.Value(principalContextKey{}).(UserID)
	return userID, ok && userID != ""
}
