package idempotency

import (
	"context"
	"time"

	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
)

const collectionName = "idempotencyKeys"

// FirestoreStore persists claims as documents keyed by the hashed idempotency key. The expireAt field is
// intended for a Firestore TTL policy.
type FirestoreStore struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[keyDocument]
}

type keyDocument struct {
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"status,omitempty"`
	Headers     map[string][]string `firestore:"headers,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpireAt    time.Time           `firestore:"expireAt"`
}

// NewFirestoreStore binds the store to provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		provider: provider,
		docs:     pfirestore.NewCollection[keyDocument](provider, collectionName),
	}
}

// Claim implements Store.
func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	var claim Claim
	err := s.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := s.docs.Get(ctx, key)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		if err == nil && doc.Exists && now.Before(doc.Data.ExpireAt) {
			if doc.Data.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			if doc.Data.Done {
				claim = Claim{State: StateReplay, Response: Response{Status: doc.Data.Status, Headers: doc.Data.Headers, Body: doc.Data.Body}}
			} else {
				claim = Claim{State: StateInFlight}
			}
			return nil
		}
		claim = Claim{State: StateClaimed}
		return s.docs.Set(ctx, key, keyDocument{Fingerprint: fingerprint, CreatedAt: now, ExpireAt: now.Add(ttl)})
	})
	return claim, err
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error {
	_, err := s.docs.Mutate(ctx, key, func(current pfirestore.Document[keyDocument]) (keyDocument, error) {
		next := current.Data
		next.Done = true
		next.Status = resp.Status
		next.Headers = resp.Headers
		next.Body = resp.Body
		next.ExpireAt = now.Add(ttl)
		return next, nil
	})
	return err
}

// Abandon implements Store.
func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	return s.docs.Delete(ctx, key)
}
