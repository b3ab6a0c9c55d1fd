package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

type failingLowStockIndex struct {
	repositories.StockRepository
}

func (failingLowStockIndex) ListLowStock(context.Context, domain.Pagination) (domain.CursorPage[domain.CatalogItem], error) {
	return domain.CursorPage[domain.CatalogItem]{}, errors.New("index building")
}

func TestSystemServiceReportsStockLedger(t *testing.T) {
	engine := newTestEngine(t)
	engine.seedItem(t, "amox", 3, "12.50")
	engine.seedItem(t, "para", 40, "2")

	start := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Stock: engine.registry.Stock(),
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "2.0.1", CommitSHA: "f00d", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("low stock must not fail readiness, got %s", report.Status)
	}
	check, ok := report.Checks[stockLedgerCheck]
	if !ok {
		t.Fatalf("expected %s check, got %v", stockLedgerCheck, report.Checks)
	}
	if !strings.HasPrefix(check.Detail, "1 items") {
		t.Fatalf("expected one low stock item in detail, got %q", check.Detail)
	}
	if report.Version != "2.0.1" || report.CommitSHA != "f00d" || report.Environment != "staging" {
		t.Fatalf("build metadata not applied: %+v", report)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing: uptime %s generated %s", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceDegradesWhenLowStockIndexFails(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}},
		Stock:            failingLowStockIndex{},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if check := report.Checks[stockLedgerCheck]; check.Error != "index building" {
		t.Fatalf("expected index error on check, got %+v", check)
	}
}

func TestSystemServiceKeepsWorstStatus(t *testing.T) {
	cases := map[string]struct {
		status string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"repository error wins": {
			status: domain.HealthStatusError,
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: domain.HealthStatusOK}},
			want:   domain.HealthStatusError,
		},
		"missing verdict derived from checks": {
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: domain.HealthStatusDegraded}},
			want:   domain.HealthStatusDegraded,
		},
		"non critical failure stays degraded": {
			status: domain.HealthStatusDegraded,
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: domain.HealthStatusError}},
			want:   domain.HealthStatusDegraded,
		},
		"unknown status counts as degraded": {
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: "flapping"}},
			want:   domain.HealthStatusDegraded,
		},
		"empty": {
			want: domain.HealthStatusOK,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Status: tc.status, Checks: tc.checks}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
		})
	}
}

func TestSystemServiceCachesSuccessfulReports(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		CacheTTL:         2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.HealthReport(context.Background()); err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collection within the ttl, got %d", repo.calls)
	}

	now = now.Add(3 * time.Second)
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected checks to rerun after the ttl, got %d", repo.calls)
	}
	if report.Uptime != 3*time.Second {
		t.Fatalf("expected uptime 3s, got %s", report.Uptime)
	}
}

func TestSystemServiceDoesNotCacheErrors(t *testing.T) {
	expected := errors.New("collect failed")
	repo := &stubHealthRepository{err: expected}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
			t.Fatalf("expected %v, got %v", expected, err)
		}
	}
	if repo.calls != 2 {
		t.Fatalf("errors must not be cached, got %d calls", repo.calls)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
