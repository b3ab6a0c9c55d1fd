package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/carepoint-rx/api/internal/platform/httpx"
)

const (
	defaultRoleClaim   = "role"
	defaultLocaleClaim = "locale"
	defaultEmailClaim  = "email"
)

// Authenticator turns bearer tokens into identities for HTTP handlers.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole sets the role assumed when a token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		a.fallbackRole = normaliseRole(role)
	}
}

// WithVerificationTimeout bounds token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator. Tokens without a role claim are treated as patients.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		fallbackRole: RolePatient,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are given, requires one of them.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			claims, err := a.verifier.Verify(ctx, token)
			cancel()
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					writeAuthError(r.Context(), w, http.StatusUnauthorized, "token_expired", "token expired")
					return
				}
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "invalid_token", "token verification failed")
				return
			}

			identity := &Identity{
				UID:    claims.Subject,
				Email:  claims.str(defaultEmailClaim),
				Locale: claims.str(defaultLocaleClaim),
				Roles:  claims.roles(a.roleClaim),
			}
			if len(identity.Roles) == 0 && a.fallbackRole != "" {
				identity.Roles = []string{a.fallbackRole}
			}
			if identity.UID == "" || identity.PrimaryRole() == "" {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "missing_role", "no recognised role associated with identity")
				return
			}
			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				writeAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
