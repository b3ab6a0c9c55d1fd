package auth

import (
	"context"
	"strings"
)

// Role claims recognised by the API.
const (
	RolePatient    = "patient"
	RolePharmacist = "pharmacist"
	RoleDelivery   = "delivery"
	RoleAdmin      = "admin"
)

// rolePrecedence orders roles from most to least privileged.
var rolePrecedence = []string{RoleAdmin, RolePharmacist, RoleDelivery, RolePatient}

// Identity captures the authenticated principal extracted from a bearer token.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// PrimaryRole returns the most privileged recognised role, or "" when none is present.
func (i *Identity) PrimaryRole() string {
	for _, role := range rolePrecedence {
		if i.HasRole(role) {
			return role
		}
	}
	return ""
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
