package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/carepoint-rx/api"

// LedgerMetrics counts stock ledger and order confirmation outcomes.
type LedgerMetrics struct {
	commits        metric.Int64Counter
	unitsCommitted metric.Int64Counter
	confirms       metric.Int64Counter
}

// NewLedgerMetrics registers the counters on the global meter provider. With no SDK installed the
// counters are no-ops.
func NewLedgerMetrics() (*LedgerMetrics, error) {
	meter := otel.Meter(meterName)

	commits, err := meter.Int64Counter("rx.stock.commits",
		metric.WithDescription("Stock commit attempts by outcome"))
	if err != nil {
		return nil, err
	}
	units, err := meter.Int64Counter("rx.stock.units_committed",
		metric.WithDescription("Units decremented by successful commits"),
		metric.WithUnit("{unit}"))
	if err != nil {
		return nil, err
	}
	confirms, err := meter.Int64Counter("rx.orders.confirmations",
		metric.WithDescription("Order confirmation attempts by outcome"))
	if err != nil {
		return nil, err
	}
	return &LedgerMetrics{commits: commits, unitsCommitted: units, confirms: confirms}, nil
}

// RecordCommit records a stock commit outcome.
func (m *LedgerMetrics) RecordCommit(ctx context.Context, outcome string, units int) {
	if m == nil {
		return
	}
	m.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if units > 0 {
		m.unitsCommitted.Add(ctx, int64(units))
	}
}

// RecordConfirm records an order confirmation outcome.
func (m *LedgerMetrics) RecordConfirm(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.confirms.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
