package memory

import (
	"context"
	"math"

	"github.com/carepoint-rx/api/internal/repositories"
)

type counterRepository struct{ s *Store }

func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if counterID == "" || step <= 0 {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "counter id and positive step are required", nil)
	}
	defer r.s.lock(ctx)()
	current := r.s.counters[counterID]
	if current > math.MaxInt64-step {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorOverflow, "", nil)
	}
	current += step
	r.s.counters[counterID] = current
	return current, nil
}
