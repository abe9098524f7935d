package middleware

import "context"

type userHolderKey struct{}

// userHolder is filled in by TagUser and read by Logger after the handler returns.
type userHolder struct {
	userID string
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey{}, h)
}
