package http

import (
	"context"

	"carrent-backend/internal/service"
)

type callerKey struct{}

func withCaller(ctx context.Context, c service.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the identity the auth middleware resolved.
func CallerFromContext(ctx context.Context) (service.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(service.Caller)
	return c, ok
}
