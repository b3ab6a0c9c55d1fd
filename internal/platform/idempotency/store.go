// Package idempotency lets clients retry mutating requests with an Idempotency-Key header and
// receive the original response instead of repeating the side effect.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long completed responses are replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of claiming a key.
type State int

const (
	// StateClaimed means the caller owns the key and must complete or abandon it.
	StateClaimed State = iota
	// StateReplay means a stored response exists for the key.
	StateReplay
	// StateInFlight means another request holds the key.
	StateInFlight
)

// Claim is returned by Store.Claim.
type Claim struct {
	State    State
	Response Response
}

// Response is the stored HTTP response replayed on retries.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

// Store persists key claims and their responses.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// replayableHeaders drops hop-by-hop and length headers that must not be replayed verbatim.
func replayableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "Trailer", "Upgrade", "Keep-Alive":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
