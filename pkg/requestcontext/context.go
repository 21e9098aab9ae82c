// Package requestcontext provides HTTP-independent accessors for
// request-scoped values. Middleware sets them; services read them. Keeping
// the package free of net/http lets domain packages import it without
// pulling transport code.
//
// The injected clock (Now / WithTime) is how tests pin time: services never
// call time.Now directly for domain decisions.
package requestcontext

import (
	"context"
	"time"

	id "hemobank/pkg/domain"
)

type (
	actorIDKey     struct{}
	actorRoleKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// ActorID retrieves the acting staff/donor identifier from the context.
// Returns "" when unauthenticated.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActorID injects the acting user's identifier.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ActorRole retrieves the caller's role tier. Returns the zero Role when
// unauthenticated; Role.AtLeastStaff is false for it.
func ActorRole(ctx context.Context) id.Role {
	if v, ok := ctx.Value(actorRoleKey{}).(id.Role); ok {
		return v
	}
	return ""
}

// WithActorRole injects the caller's role tier.
func WithActorRole(ctx context.Context, role id.Role) context.Context {
	return context.WithValue(ctx, actorRoleKey{}, role)
}

// RequestID retrieves the correlation id set by middleware.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the request time if one was injected, falling back to the
// wall clock. Domain code must use this instead of time.Now so tests can
// pin the clock.
func Now(ctx context.Context) time.Time {
	if v, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return v
	}
	return time.Now()
}

// WithTime pins the request time, primarily for tests and for middleware
// that stamps arrival time once per request.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
