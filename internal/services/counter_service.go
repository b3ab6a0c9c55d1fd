package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carepoint-rx/api/internal/repositories"
)

var (
	// ErrCounterExhausted indicates the counter cannot increment further.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService constructs the order and invoice number generator. Sequences reset yearly for
// orders and monthly for invoices.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	seq, err := s.next(ctx, fmt.Sprintf("orders:%04d", now.Year()))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RX-%04d-%06d", now.Year(), seq), nil
}

func (s *counterService) NextInvoiceNumber(ctx context.Context) (string, error) {
	now := s.clock()
	period := fmt.Sprintf("%04d%02d", now.Year(), int(now.Month()))
	seq, err := s.next(ctx, "invoices:"+period)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%s-%06d", period, seq), nil
}

func (s *counterService) next(ctx context.Context, counterID string) (int64, error) {
	value, err := s.repo.Next(ctx, counterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorOverflow {
			return 0, fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
		return 0, translateRepoError(err, ErrNotFound)
	}
	return value, nil
}
