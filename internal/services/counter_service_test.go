package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carepoint-rx/api/internal/repositories"
)

type stubCounterRepository struct {
	mu        sync.Mutex
	nextFn    func(context.Context, string, int64) (int64, error)
	nextCalls []counterCall
}

type counterCall struct {
	ID   string
	Step int64
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{ID: counterID, Step: step})
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 7, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: fixedClock(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	result, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if result != "RX-2025-000007" {
		t.Fatalf("expected formatted order number, got %s", result)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.nextCalls) != 1 {
		t.Fatalf("expected one next call, got %d", len(repo.nextCalls))
	}
	if repo.nextCalls[0].ID != "orders:2025" || repo.nextCalls[0].Step != 1 {
		t.Fatalf("unexpected counter call %+v", repo.nextCalls[0])
	}
}

func TestCounterServiceNextInvoiceNumber(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 31, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: fixedClock(time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC))})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	result, err := svc.NextInvoiceNumber(context.Background())
	if err != nil {
		t.Fatalf("next invoice number: %v", err)
	}
	if result != "INV-202506-000031" {
		t.Fatalf("expected formatted invoice number, got %s", result)
	}
	if repo.nextCalls[0].ID != "invoices:202506" {
		t.Fatalf("expected monthly invoice counter, got %s", repo.nextCalls[0].ID)
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorOverflow, "limit", nil)
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	_, err = svc.NextOrderNumber(context.Background())
	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestNewCounterServiceRequiresRepository(t *testing.T) {
	if _, err := NewCounterService(CounterServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
