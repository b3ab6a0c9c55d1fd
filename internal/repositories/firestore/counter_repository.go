package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
	"github.com/carepoint-rx/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
// A missing counter starts from zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.counters.Get(ctx, id)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		if current.Data.CurrentValue > math.MaxInt64-step {
			return repositories.NewCounterError("counters.next", repositories.CounterErrorOverflow,
				fmt.Sprintf("counter %s would overflow", id), nil)
		}
		next = current.Data.CurrentValue + step
		return r.counters.Set(ctx, id, counterDocument{CurrentValue: next, UpdatedAt: r.now()})
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
