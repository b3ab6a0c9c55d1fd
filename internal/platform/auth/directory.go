package auth

import (
	"context"
	"errors"
	"fmt"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/config"
)

type userLookup interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// FirebaseDirectory resolves staff roles from Firebase custom claims.
type FirebaseDirectory struct {
	users     userLookup
	roleClaim string
}

// NewFirebaseDirectory constructs a directory backed by the Admin SDK.
func NewFirebaseDirectory(ctx context.Context, cfg config.FirebaseConfig, roleClaim string) (*FirebaseDirectory, error) {
	client, err := newFirebaseAuthClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if roleClaim == "" {
		roleClaim = defaultRoleClaim
	}
	return &FirebaseDirectory{users: client, roleClaim: roleClaim}, nil
}

// RolesOf returns the recognised roles held by uid. Unknown users hold no roles.
func (d *FirebaseDirectory) RolesOf(ctx context.Context, uid string) ([]domain.Role, error) {
	if d == nil || d.users == nil {
		return nil, errors.New("firebase directory not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, defaultVerifyTimeout)
	defer cancel()

	user, err := d.users.GetUser(ctx, uid)
	switch {
	case err == nil:
	case firebaseauth.IsUserNotFound(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("lookup user %s: %w", uid, err)
	}
	claims := Claims{Subject: user.UID, Values: user.CustomClaims}
	return toDomainRoles(claims.roles(d.roleClaim)), nil
}

// StaticDirectory maps uids to roles. It backs local runs that use dev tokens.
type StaticDirectory map[string][]string

// RolesOf implements services.StaffDirectory.
func (d StaticDirectory) RolesOf(_ context.Context, uid string) ([]domain.Role, error) {
	return toDomainRoles(d[uid]), nil
}

func toDomainRoles(roles []string) []domain.Role {
	out := make([]domain.Role, 0, len(roles))
	for _, role := range roles {
		switch role = normaliseRole(role); role {
		case RolePatient, RolePharmacist, RoleDelivery, RoleAdmin:
			out = append(out, domain.Role(role))
		}
	}
	return out
}
