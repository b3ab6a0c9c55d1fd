package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carepoint-rx/api/internal/platform/config"
	"github.com/carepoint-rx/api/internal/repositories"
	"github.com/carepoint-rx/api/internal/services"
)

const readinessCacheTTL = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Ledger        services.StockLedgerService
	Orders        services.OrderService
	Prescriptions services.PrescriptionService
	Invoices      services.InvoiceService
	Counters      services.CounterService
	System        services.SystemService
}

// Collaborators are the outward-facing adapters assembled by cmd/api. Nil values fall back to the
// services' no-op defaults, except Directory which order assignment requires.
type Collaborators struct {
	Notifier  services.Notifier
	Payments  services.PaymentGateway
	Directory services.StaffDirectory
	Metrics   services.LedgerMetrics
	Logger    services.Logger
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, collab Collaborators) (Services, error) {
	var svc Services
	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}
	billing := services.NewBillingCalculator(cfg.Billing.FreeDeliveryAbove, cfg.Billing.DeliveryFee)

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	invoiceSvc, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Repository: reg.Invoices(),
		UnitOfWork: reg,
		Counters:   counterSvc,
		Currency:   cfg.Billing.Currency,
		Locale:     cfg.Billing.InvoiceLocale,
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}
	svc.Invoices = invoiceSvc

	ledgerSvc, err := services.NewStockLedgerService(services.StockLedgerServiceDeps{
		Registry: reg,
		Notifier: collab.Notifier,
		Metrics:  collab.Metrics,
		Clock:    clock,
		Logger:   collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger service: %w", err)
	}
	svc.Ledger = ledgerSvc

	prescriptionSvc, err := services.NewPrescriptionService(services.PrescriptionServiceDeps{
		Registry: reg,
		Billing:  billing,
		Invoices: invoiceSvc,
		Counters: counterSvc,
		Notifier: collab.Notifier,
		Clock:    clock,
		Logger:   collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build prescription service: %w", err)
	}
	svc.Prescriptions = prescriptionSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Registry:      reg,
		Ledger:        ledgerSvc,
		Billing:       billing,
		Invoices:      invoiceSvc,
		Counters:      counterSvc,
		Prescriptions: prescriptionSvc,
		Payments:      collab.Payments,
		Directory:     collab.Directory,
		Notifier:      collab.Notifier,
		Metrics:       collab.Metrics,
		Currency:      cfg.Billing.Currency,
		Clock:         clock,
		Logger:        collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := collab.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Stock:            reg.Stock(),
			Clock:            clock,
			Build:            build,
			CacheTTL:         readinessCacheTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
