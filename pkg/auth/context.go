package auth

import (
	"context"

	"github.com/google/uuid"
)

type userContextKey struct{}

// ContextWithUser returns a copy of ctx carrying the authenticated user id.
func ContextWithUser(ctx context.Context, user uuid.UUID) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the user id stored by ContextWithUser.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	user, ok := ctx.Value(userContextKey{}).(uuid.UUID)
	return user, ok
}
