package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/carepoint-rx/api/internal/platform/httpx"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing keys.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const defaultJWKSTTL = 15 * time.Minute

// KeySet caches the signing keys published by an OIDC provider.
type KeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// NewKeySet constructs a key set for the given JWKS URL. A nil client uses a 10s timeout default.
func NewKeySet(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{url: url, client: client, now: time.Now}
}

// Key resolves the public key for kid, refreshing once when the cache is stale or misses.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) == 0 || !s.now().Before(s.expiry) {
		if err := s.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := s.keys[kid]; ok {
		return jwk.Key, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := s.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (s *KeySet) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	s.keys = keys
	s.expiry = s.now().Add(ttl)
	return nil
}

func maxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// ServiceIdentity is the verified caller of an internal endpoint.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// ServiceIdentityFromContext returns the identity stored by RequireServiceToken.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// ServiceTokenVerifier validates Google-signed OIDC tokens issued to scheduler service accounts.
type ServiceTokenVerifier struct {
	keys            *KeySet
	audience        string
	issuers         map[string]struct{}
	serviceAccounts map[string]struct{}
	logger          *zap.Logger
}

// NewServiceTokenVerifier constructs a verifier. Empty issuer or account lists accept any value.
func NewServiceTokenVerifier(keys *KeySet, audience string, issuers, serviceAccounts []string, logger *zap.Logger) *ServiceTokenVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceTokenVerifier{
		keys:            keys,
		audience:        strings.TrimSpace(audience),
		issuers:         toSet(issuers),
		serviceAccounts: toSet(serviceAccounts),
		logger:          logger,
	}
}

// Verify parses and validates the token, returning the service identity.
func (v *ServiceTokenVerifier) Verify(ctx context.Context, token string) (*ServiceIdentity, error) {
	if v == nil || v.keys == nil || v.audience == "" {
		return nil, fmt.Errorf("%w: oidc verifier not configured", ErrJWKSFetchFailed)
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	identity := &ServiceIdentity{}
	identity.Issuer, _ = claims["iss"].(string)
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[strings.ToLower(identity.Issuer)]; !ok {
			return nil, fmt.Errorf("%w: issuer %q not allowed", ErrTokenInvalid, identity.Issuer)
		}
	}
	if len(v.serviceAccounts) > 0 {
		if _, ok := v.serviceAccounts[strings.ToLower(identity.Email)]; !ok {
			return nil, fmt.Errorf("%w: service account %q not allowed", ErrTokenInvalid, identity.Email)
		}
	}
	return identity, nil
}

// RequireServiceToken guards internal endpoints with an OIDC bearer token.
func (v *ServiceTokenVerifier) RequireServiceToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}
			identity, err := v.Verify(ctx, token)
			if err != nil {
				v.logger.Warn("auth: oidc verification failed", zap.Error(err))
				if errors.Is(err, ErrJWKSFetchFailed) {
					httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable))
					return
				}
				writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityContextKey{}, identity)))
		})
	}
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			out[value] = struct{}{}
		}
	}
	return out
}
