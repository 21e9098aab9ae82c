package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "hemobank/pkg/domain"
	"hemobank/pkg/requestcontext"
)

// TokenValidator validates a bearer token from the external identity
// collaborator and returns the claims the core cares about. The core treats
// identity as opaque beyond the role tier.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims is the subset of the identity token the core consumes.
type Claims struct {
	Subject string
	Role    id.Role
}

// HMACValidator validates HS256 tokens carrying a "role" claim. It is the
// default TokenValidator; deployments fronting the service with their own
// gateway can swap it out.
type HMACValidator struct {
	signingKey []byte
}

func NewHMACValidator(signingKey string) *HMACValidator {
	return &HMACValidator{signingKey: []byte(signingKey)}
}

func (v *HMACValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	roleStr, _ := claims["role"].(string)
	role, err := id.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	return &Claims{Subject: sub, Role: role}, nil
}

// RequireRole authenticates the bearer token and rejects callers below the
// minimum tier. Donor < staff < admin.
func RequireRole(validator TokenValidator, minimum id.Role, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				unauthorized(w)
				return
			}
			if !allows(claims.Role, minimum) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			ctx := requestcontext.WithActorID(r.Context(), claims.Subject)
			ctx = requestcontext.WithActorRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func allows(role, minimum id.Role) bool {
	tiers := map[id.Role]int{id.RoleDonor: 1, id.RoleStaff: 2, id.RoleAdmin: 3}
	return tiers[role] >= tiers[minimum]
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
