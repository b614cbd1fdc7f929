package auth

import "context"

// Identity is the authenticated caller. UserID is the users.id row key;
// Subject is the identity provider's id for the same person.
type Identity struct {
	UserID  string `json:"id"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
