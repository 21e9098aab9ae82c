package testutil

import (
	"context"
	"net/http"
	"time"

	id "hemobank/pkg/domain"
	"hemobank/pkg/requestcontext"
)

// StaffContext returns a context carrying a staff-tier actor, the state
// staff-gated operations expect after the auth middleware ran.
func StaffContext(ctx context.Context) context.Context {
	ctx = requestcontext.WithActorID(ctx, "staff-tester")
	return requestcontext.WithActorRole(ctx, id.RoleStaff)
}

// DonorContext returns a context carrying a donor-tier actor.
func DonorContext(ctx context.Context) context.Context {
	ctx = requestcontext.WithActorID(ctx, "donor-tester")
	return requestcontext.WithActorRole(ctx, id.RoleDonor)
}

// At pins the request clock so derived values (event phase, expiry checks,
// stock timestamps) are deterministic.
func At(ctx context.Context, t time.Time) context.Context {
	return requestcontext.WithTime(ctx, t)
}

// WithRole stamps an HTTP request's context with the given role, simulating
// what the auth middleware does for an authenticated request.
func WithRole(req *http.Request, role id.Role) *http.Request {
	ctx := requestcontext.WithActorRole(req.Context(), role)
	return req.WithContext(ctx)
}
