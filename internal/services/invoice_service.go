package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/repositories"
)

const (
	defaultInvoiceCurrency = "INR"
	defaultInvoiceLocale   = "en-IN"
)

// InvoiceServiceDeps bundles collaborators required to construct an invoice service.
type InvoiceServiceDeps struct {
	Repository repositories.InvoiceRepository
	// UnitOfWork serialises concurrent generation for one order. Without it Generate runs
	// unguarded.
	UnitOfWork repositories.UnitOfWork
	Counters   CounterService
	Currency   string
	Locale     string
	Clock      func() time.Time
}

type invoiceService struct {
	repo     repositories.InvoiceRepository
	uow      repositories.UnitOfWork
	counters CounterService
	currency currency.Unit
	locale   language.Tag
	clock    func() time.Time
}

// NewInvoiceService constructs the invoice generator.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Repository == nil {
		return nil, errors.New("invoice service: repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("invoice service: counter service is required")
	}

	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = defaultInvoiceCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("invoice service: currency %q: %w", code, err)
	}

	localeName := strings.TrimSpace(deps.Locale)
	if localeName == "" {
		localeName = defaultInvoiceLocale
	}
	locale, err := language.Parse(localeName)
	if err != nil {
		return nil, fmt.Errorf("invoice service: locale %q: %w", localeName, err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &invoiceService{
		repo:     deps.Repository,
		uow:      deps.UnitOfWork,
		counters: deps.Counters,
		currency: unit,
		locale:   locale,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Generate writes the invoice for a billed order. An existing invoice keeps its number and is
// overwritten with the order's current lines and totals.
func (s *invoiceService) Generate(ctx context.Context, order Order) (Invoice, error) {
	if !order.Billed() {
		return Invoice{}, fmt.Errorf("%w: order %s has not been billed", ErrOrderInvalidState, order.ID)
	}

	var invoice Invoice
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		invoice = Invoice{ID: newID(invoiceIDPrefix)}
		existing, err := s.repo.FindByOrder(txCtx, order.ID)
		switch err = translateRepoError(err, ErrInvoiceNotFound); {
		case err == nil:
			invoice.ID = existing.ID
			invoice.InvoiceNumber = existing.InvoiceNumber
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		if invoice.InvoiceNumber == "" {
			number, err := s.counters.NextInvoiceNumber(txCtx)
			if err != nil {
				return err
			}
			invoice.InvoiceNumber = number
		}

		s.fill(&invoice, order)
		return s.repo.Save(txCtx, invoice)
	})
	if err != nil {
		return Invoice{}, translateRepoError(err, ErrInvoiceNotFound)
	}
	return invoice, nil
}

func (s *invoiceService) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.uow == nil {
		return fn(ctx)
	}
	return s.uow.RunInTx(ctx, fn)
}

// fill copies the order's lines and totals onto invoice and renders the display amounts.
func (s *invoiceService) fill(invoice *Invoice, order Order) {
	invoice.OrderRef = order.ID
	invoice.OrderNumber = order.OrderNumber
	invoice.PatientRef = order.PatientRef
	invoice.Subtotal = amountOrZero(order.TotalAmount)
	invoice.DeliveryFee = amountOrZero(order.DeliveryFee)
	invoice.FinalAmount = amountOrZero(order.FinalAmount)
	invoice.Currency = s.currency.String()
	invoice.GeneratedAt = s.clock()
	invoice.Lines = make([]domain.InvoiceLine, 0, len(order.Items))
	for _, item := range order.Items {
		invoice.Lines = append(invoice.Lines, domain.InvoiceLine{
			MedicineRef:    item.MedicineRef,
			Name:           item.NameSnapshot,
			Quantity:       item.Quantity,
			UnitPrice:      item.PriceSnapshot,
			LineTotal:      item.LineTotal(),
			IsPrescription: item.IsPrescription,
		})
	}
	invoice.Display = domain.InvoiceDisplay{
		Locale:      s.locale.String(),
		Subtotal:    s.format(invoice.Subtotal),
		DeliveryFee: s.format(invoice.DeliveryFee),
		FinalAmount: s.format(invoice.FinalAmount),
	}
}

func (s *invoiceService) FindByOrder(ctx context.Context, orderID string) (Invoice, error) {
	invoice, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return Invoice{}, translateRepoError(err, ErrInvoiceNotFound)
	}
	return invoice, nil
}

// format renders amount with the currency symbol and the locale's digit grouping.
func (s *invoiceService) format(amount decimal.Decimal) string {
	p := message.NewPrinter(s.locale)
	return p.Sprint(currency.Symbol(s.currency)) + " " + p.Sprint(number.Decimal(amount.InexactFloat64(), number.Scale(2)))
}

func amountOrZero(value *decimal.Decimal) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return *value
}
