package userctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const userKey ctxKey = "user_id"

// Create a new context with the authenticated user id
func New(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// Extract the user id from the context
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
