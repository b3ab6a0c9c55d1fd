package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const devTokenIssuer = "carepoint-rx-dev"

// DevTokenVerifier accepts HS256 tokens signed with a shared secret. It exists for local runs and
// tests where Firebase is not reachable and must not be enabled in production.
type DevTokenVerifier struct {
	secret []byte
	now    func() time.Time
}

type devClaims struct {
	Email  string   `json:"email,omitempty"`
	Locale string   `json:"locale,omitempty"`
	Role   []string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewDevTokenVerifier constructs a verifier for the given secret.
func NewDevTokenVerifier(secret string) (*DevTokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("dev token secret is required")
	}
	return &DevTokenVerifier{secret: []byte(secret), now: time.Now}, nil
}

// Verify implements TokenVerifier.
func (v *DevTokenVerifier) Verify(_ context.Context, token string) (Claims, error) {
	claims := &devClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Issuer != devTokenIssuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, claims.Issuer)
	}

	roles := make([]any, 0, len(claims.Role))
	for _, role := range claims.Role {
		roles = append(roles, role)
	}
	return Claims{
		Subject: claims.Subject,
		Values: map[string]any{
			"email":  claims.Email,
			"locale": claims.Locale,
			"role":   roles,
		},
	}, nil
}

// IssueDevToken signs a token accepted by DevTokenVerifier.
func IssueDevToken(secret, uid string, roles []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(uid) == "" {
		return "", errors.New("dev token: secret and uid are required")
	}
	now := time.Now()
	claims := devClaims{
		Role: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    devTokenIssuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
