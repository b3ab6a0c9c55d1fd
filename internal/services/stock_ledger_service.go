package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/pagination"
	"github.com/carepoint-rx/api/internal/repositories"
)

// Commit outcomes recorded on LedgerMetrics.
const (
	outcomeCommitted    = "committed"
	outcomeInsufficient = "insufficient"
	outcomeFailed       = "failed"
)

// StockLedgerServiceDeps bundles collaborators required to construct the stock ledger.
type StockLedgerServiceDeps struct {
	Registry repositories.Registry
	Notifier Notifier
	Metrics  LedgerMetrics
	Clock    func() time.Time
	Logger   Logger
}

type stockLedgerService struct {
	uow     repositories.UnitOfWork
	stock   repositories.StockRepository
	orders  repositories.OrderRepository
	notify  notifier
	metrics LedgerMetrics
	clock   func() time.Time
	logger  Logger
}

var _ StockLedgerService = (*stockLedgerService)(nil)

// NewStockLedgerService constructs the ledger over the registry's stock and order repositories.
func NewStockLedgerService(deps StockLedgerServiceDeps) (StockLedgerService, error) {
	if deps.Registry == nil {
		return nil, errors.New("stock ledger: registry is required")
	}
	clock := utcClock(deps.Clock)
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &stockLedgerService{
		uow:     deps.Registry,
		stock:   deps.Registry.Stock(),
		orders:  deps.Registry.Orders(),
		notify:  newNotifier(deps.Notifier, logger, clock),
		metrics: metrics,
		clock:   clock,
		logger:  logger,
	}, nil
}

func (s *stockLedgerService) GetItem(ctx context.Context, itemID string) (CatalogItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return CatalogItem{}, fmt.Errorf("%w: item id is required", ErrValidation)
	}
	item, err := s.stock.Get(ctx, itemID)
	if err != nil {
		return CatalogItem{}, translateRepoError(err, ErrStockItemNotFound)
	}
	return item, nil
}

// Reserve reports whether quantity units could be committed right now. It never holds stock.
func (s *stockLedgerService) Reserve(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	return checkAvailability(item, quantity)
}

// Commit decrements every line or none.
func (s *stockLedgerService) Commit(ctx context.Context, lines []StockLine) ([]CatalogItem, error) {
	items, err := s.stock.Commit(ctx, lines, s.clock())
	if err != nil {
		err = translateRepoError(err, ErrStockItemNotFound)
	}
	if !commitMetricsDeferred(ctx) {
		recordCommit(ctx, s.metrics, err, stockUnits(lines))
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

type deferCommitMetricsKey struct{}

// withCommitMetricsDeferred tells Commit that the caller owns the surrounding transaction and
// records the commit outcome once that transaction settles.
func withCommitMetricsDeferred(ctx context.Context) context.Context {
	return context.WithValue(ctx, deferCommitMetricsKey{}, true)
}

func commitMetricsDeferred(ctx context.Context) bool {
	deferred, _ := ctx.Value(deferCommitMetricsKey{}).(bool)
	return deferred
}

func recordCommit(ctx context.Context, metrics LedgerMetrics, err error, units int) {
	switch {
	case err == nil:
		metrics.RecordCommit(ctx, outcomeCommitted, units)
	case errors.Is(err, ErrInsufficientStock):
		metrics.RecordCommit(ctx, outcomeInsufficient, 0)
	default:
		metrics.RecordCommit(ctx, outcomeFailed, 0)
	}
}

func stockUnits(lines []StockLine) int {
	units := 0
	for _, line := range lines {
		units += line.Quantity
	}
	return units
}

// MarkOut zeroes the item's stock and flags every open order line that references it.
func (s *stockLedgerService) MarkOut(ctx context.Context, cmd StockItemCommand) (MarkOutResult, error) {
	if !hasRole(cmd.Actor, domain.RolePharmacist, domain.RoleAdmin) {
		return MarkOutResult{}, fmt.Errorf("%w: only pharmacists can mark items out of stock", ErrForbidden)
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return MarkOutResult{}, fmt.Errorf("%w: item id is required", ErrValidation)
	}

	var (
		result   MarkOutResult
		affected []Order
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		result = MarkOutResult{}
		affected = nil
		now := s.clock()

		open, err := s.orders.ListOpenByMedicine(txCtx, itemID)
		if err != nil {
			return err
		}
		item, err := s.stock.MarkOut(txCtx, itemID, now)
		if err != nil {
			return err
		}
		result.Item = item

		for _, order := range open {
			for i := range order.Items {
				if order.Items[i].MedicineRef == itemID {
					order.Items[i].IsAvailable = false
				}
			}
			order.UpdatedAt = now
			updated, err := s.orders.Update(txCtx, order)
			if err != nil {
				return err
			}
			affected = append(affected, updated)
			result.AffectedOrders = append(result.AffectedOrders, updated.ID)
		}
		return nil
	})
	if err != nil {
		return MarkOutResult{}, translateRepoError(err, ErrStockItemNotFound)
	}

	s.logger(ctx, "stock.marked_out", map[string]any{
		"itemId":         itemID,
		"actorId":        cmd.Actor.ID,
		"affectedOrders": len(affected),
	})
	s.notify.send(ctx, Notification{
		Kind:      NotificationOutOfStock,
		ItemID:    itemID,
		Recipient: RecipientPharmacy,
		Message:   fmt.Sprintf("%s is out of stock", result.Item.Name),
		Data:      map[string]any{"affectedOrders": result.AffectedOrders},
	})
	for _, order := range affected {
		s.notify.send(ctx, Notification{
			Kind:      NotificationOutOfStock,
			ItemID:    itemID,
			OrderID:   order.ID,
			Recipient: order.PatientRef,
			Message:   fmt.Sprintf("%s in order %s is currently unavailable", result.Item.Name, order.OrderNumber),
		})
	}
	return result, nil
}

// Restock adds units. A raised alert stays until an admin clears it.
func (s *stockLedgerService) Restock(ctx context.Context, cmd RestockCommand) (CatalogItem, error) {
	if !hasRole(cmd.Actor, domain.RolePharmacist, domain.RoleAdmin) {
		return CatalogItem{}, fmt.Errorf("%w: only pharmacists can restock", ErrForbidden)
	}
	if cmd.Units <= 0 {
		return CatalogItem{}, fmt.Errorf("%w: units must be positive", ErrValidation)
	}
	item, err := s.stock.Restock(ctx, strings.TrimSpace(cmd.ItemID), cmd.Units, s.clock())
	if err != nil {
		return CatalogItem{}, translateRepoError(err, ErrStockItemNotFound)
	}
	s.logger(ctx, "stock.restocked", map[string]any{
		"itemId":  item.ID,
		"actorId": cmd.Actor.ID,
		"units":   cmd.Units,
	})
	return item, nil
}

func (s *stockLedgerService) RaiseAlert(ctx context.Context, cmd RaiseAlertCommand) (CatalogItem, error) {
	if !hasRole(cmd.Actor, domain.RolePharmacist, domain.RoleAdmin) {
		return CatalogItem{}, fmt.Errorf("%w: only pharmacists can raise stock alerts", ErrForbidden)
	}
	now := s.clock()
	alert := domain.StockAlert{
		Alerted:   true,
		AlertedBy: cmd.Actor.ID,
		Reason:    sanitizeText(cmd.Reason),
		AlertedAt: &now,
	}
	item, err := s.stock.SetAlert(ctx, strings.TrimSpace(cmd.ItemID), alert, now)
	if err != nil {
		return CatalogItem{}, translateRepoError(err, ErrStockItemNotFound)
	}
	return item, nil
}

func (s *stockLedgerService) ClearAlert(ctx context.Context, cmd StockItemCommand) (CatalogItem, error) {
	if !hasRole(cmd.Actor, domain.RoleAdmin) {
		return CatalogItem{}, fmt.Errorf("%w: only admins can clear stock alerts", ErrForbidden)
	}
	item, err := s.stock.SetAlert(ctx, strings.TrimSpace(cmd.ItemID), domain.StockAlert{}, s.clock())
	if err != nil {
		return CatalogItem{}, translateRepoError(err, ErrStockItemNotFound)
	}
	return item, nil
}

func (s *stockLedgerService) ListLowStock(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[CatalogItem], error) {
	if !hasRole(actor, domain.RolePharmacist, domain.RoleAdmin) {
		return domain.CursorPage[CatalogItem]{}, fmt.Errorf("%w: only pharmacists can list low stock", ErrForbidden)
	}
	page, err := s.stock.ListLowStock(ctx, pager)
	if err != nil {
		return domain.CursorPage[CatalogItem]{}, translateListError(err)
	}
	return page, nil
}

// SweepLowStock publishes one low stock notification per item, up to limit items.
func (s *stockLedgerService) SweepLowStock(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be positive", ErrValidation)
	}
	published := 0
	pager := Pagination{PageSize: pagination.Clamp(limit)}
	for published < limit {
		page, err := s.stock.ListLowStock(ctx, pager)
		if err != nil {
			return published, translateListError(err)
		}
		for _, item := range page.Items {
			if published == limit {
				break
			}
			s.notify.send(ctx, Notification{
				Kind:      NotificationLowStock,
				ItemID:    item.ID,
				Recipient: RecipientPharmacy,
				Message:   fmt.Sprintf("%s is low on stock", item.Name),
				Data: map[string]any{
					"units":         item.Stock.Units,
					"minStockUnits": item.MinStockUnits,
					"alerted":       item.Alert.Alerted,
				},
			})
			published++
		}
		if page.NextPageToken == "" {
			break
		}
		pager.PageToken = page.NextPageToken
	}
	s.logger(ctx, "stock.low_stock_sweep", map[string]any{"published": published})
	return published, nil
}

// checkAvailability is the availability rule shared by Reserve and line snapshots.
func checkAvailability(item CatalogItem, quantity int) error {
	if !item.IsActive {
		return fmt.Errorf("%w: %s is inactive", ErrStockItemNotFound, item.ID)
	}
	if item.Stock.Units < quantity {
		return fmt.Errorf("%w: item %s has %d units, %d requested", ErrInsufficientStock, item.ID, item.Stock.Units, quantity)
	}
	return nil
}

func translateListError(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return translateRepoError(err, ErrNotFound)
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordCommit(context.Context, string, int) {}
func (noopMetrics) RecordConfirm(context.Context, string)     {}
