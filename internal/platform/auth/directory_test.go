package auth

import (
	"context"
	"errors"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/carepoint-rx/api/internal/domain"
)

type stubUserLookup struct {
	user *firebaseauth.UserRecord
	err  error
}

func (s stubUserLookup) GetUser(context.Context, string) (*firebaseauth.UserRecord, error) {
	return s.user, s.err
}

func TestFirebaseDirectoryReadsRoleClaim(t *testing.T) {
	user := &firebaseauth.UserRecord{
		UserInfo:     &firebaseauth.UserInfo{UID: "courier-1"},
		CustomClaims: map[string]any{"role": []any{"Delivery", "unknown"}},
	}
	dir := &FirebaseDirectory{users: stubUserLookup{user: user}, roleClaim: "role"}

	roles, err := dir.RolesOf(context.Background(), "courier-1")
	if err != nil {
		t.Fatalf("RolesOf: %v", err)
	}
	if len(roles) != 1 || roles[0] != domain.RoleDelivery {
		t.Fatalf("expected delivery role, got %v", roles)
	}
}

func TestFirebaseDirectoryPropagatesLookupErrors(t *testing.T) {
	dir := &FirebaseDirectory{users: stubUserLookup{err: errors.New("backend down")}, roleClaim: "role"}
	if _, err := dir.RolesOf(context.Background(), "uid"); err == nil {
		t.Fatalf("expected lookup error")
	}
}

func TestStaticDirectory(t *testing.T) {
	dir := StaticDirectory{"p1": {"pharmacist", "admin"}}
	roles, _ := dir.RolesOf(context.Background(), "p1")
	if len(roles) != 2 || roles[0] != domain.RolePharmacist || roles[1] != domain.RoleAdmin {
		t.Fatalf("unexpected roles %v", roles)
	}
	roles, _ = dir.RolesOf(context.Background(), "nobody")
	if len(roles) != 0 {
		t.Fatalf("expected no roles, got %v", roles)
	}
}
