package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
)

const (
	stockLedgerCheck     = "stock_ledger"
	lowStockSampleSize   = 50
	defaultHealthTimeout = 2 * time.Second
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Stock is optional. When set, readiness also reads the low-stock index.
	Stock    repositories.StockRepository
	Clock    func() time.Time
	Build    BuildInfo
	CacheTTL time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	stock      repositories.StockRepository
	clock      func() time.Time
	build      BuildInfo
	cacheTTL   time.Duration

	mu       sync.Mutex
	cached   SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporting service.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		stock:      deps.Stock,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		cacheTTL:   deps.CacheTTL,
	}, nil
}

// HealthReport probes the backing dependencies. Successful reports are reused for CacheTTL so
// frequent readiness polling does not multiply store reads.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	now := s.clock()

	s.mu.Lock()
	if s.cacheTTL > 0 && !s.cachedAt.IsZero() && now.Sub(s.cachedAt) < s.cacheTTL {
		report := s.cached
		s.mu.Unlock()
		report.Uptime = now.Sub(s.build.StartedAt)
		return report, nil
	}
	s.mu.Unlock()

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.stock != nil {
		checks[stockLedgerCheck] = s.checkStockLedger(ctx)
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	report.Uptime = now.Sub(s.build.StartedAt)
	// The repository already weighed check criticality; only the ledger check is folded in here.
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus("", checks)
	} else if ledger, ok := checks[stockLedgerCheck]; ok {
		report.Status = worstStatus(report.Status, map[string]domain.SystemHealthCheck{stockLedgerCheck: ledger})
	}

	s.mu.Lock()
	s.cached, s.cachedAt = report, now
	s.mu.Unlock()
	return report, nil
}

// checkStockLedger reads one page of the low-stock index. Low stock is reported in the detail
// and never fails readiness; an unreadable index only degrades it.
func (s *systemService) checkStockLedger(ctx context.Context) domain.SystemHealthCheck {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	start := s.clock()
	page, err := s.stock.ListLowStock(ctx, Pagination{PageSize: lowStockSampleSize})
	end := s.clock()

	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Latency: end.Sub(start), CheckedAt: end}
	if err != nil {
		check.Status = domain.HealthStatusDegraded
		check.Detail = "low stock index unavailable"
		check.Error = err.Error()
		return check
	}
	count := fmt.Sprintf("%d", len(page.Items))
	if page.NextPageToken != "" {
		count += "+"
	}
	check.Detail = count + " items at or below minimum stock"
	return check
}

// worstStatus keeps the repository's verdict unless a check reports something worse.
func worstStatus(current string, checks map[string]domain.SystemHealthCheck) string {
	rank := map[string]int{"": 0, domain.HealthStatusOK: 0, domain.HealthStatusDegraded: 1, domain.HealthStatusError: 2}
	worst := current
	if worst == "" {
		worst = domain.HealthStatusOK
	}
	for _, check := range checks {
		status := check.Status
		if _, known := rank[status]; !known {
			status = domain.HealthStatusDegraded
		}
		if rank[status] > rank[worst] {
			worst = status
		}
	}
	return worst
}
