package repositories

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carepoint-rx/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe is a readiness check against one backing dependency. A failing critical probe marks the
// service as errored; other failures only degrade it.
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

type probeHealthRepository struct {
	probes      []Probe
	environment string
	now         func() time.Time
}

// NewProbeHealthRepository runs probes concurrently on every Collect.
func NewProbeHealthRepository(environment string, now func() time.Time, probes ...Probe) (HealthRepository, error) {
	for _, probe := range probes {
		if probe.Name == "" || probe.Check == nil {
			return nil, errors.New("health: probes need a name and a check")
		}
	}
	if now == nil {
		now = time.Now
	}
	return &probeHealthRepository{probes: probes, environment: environment, now: now}, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.SystemHealthCheck, len(r.probes))
	var wg sync.WaitGroup
	for i, probe := range r.probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = r.run(ctx, probe)
		}(i, probe)
	}
	wg.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(r.probes)),
		Environment: r.environment,
		GeneratedAt: r.now(),
	}
	for i, probe := range r.probes {
		check := results[i]
		report.Checks[probe.Name] = check
		if check.Status == domain.HealthStatusOK {
			continue
		}
		if probe.Critical {
			report.Status = domain.HealthStatusError
		} else if report.Status == domain.HealthStatusOK {
			report.Status = domain.HealthStatusDegraded
		}
	}
	return report, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.SystemHealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(ctx)
	end := r.now()

	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		check.Status, check.Detail, check.Error = domain.HealthStatusError, "timeout", err.Error()
	default:
		check.Status, check.Detail, check.Error = domain.HealthStatusError, "unavailable", err.Error()
	}
	return check
}
