package memory

import (
	"context"
	"sort"
	"time"

	"github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/pagination"
	"github.com/carepoint-rx/api/internal/repositories"
)

type stockRepository struct{ s *Store }

func (r stockRepository) Get(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	defer r.s.lock(ctx)()
	item, ok := r.s.items[itemID]
	if !ok {
		return domain.CatalogItem{}, repositories.NewStockError(repositories.StockErrorNotFound, itemID, "", notFound("stock.get", itemID))
	}
	return item, nil
}

func (r stockRepository) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if item.ID == "" || item.QtyPerPack <= 0 || item.Stock.Units < 0 {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, item.ID, "id, qtyPerPack and non-negative units are required", nil)
	}
	defer r.s.lock(ctx)()
	item.Stock = item.WithUnits(item.Stock.Units)
	r.s.items[item.ID] = item
	return nil
}

func (r stockRepository) Commit(ctx context.Context, lines []repositories.StockCommitLine, now time.Time) ([]domain.CatalogItem, error) {
	totals, order, err := repositories.SumCommitLines(lines)
	if err != nil {
		return nil, err
	}
	defer r.s.lock(ctx)()

	updated := make([]domain.CatalogItem, 0, len(order))
	for _, id := range order {
		item, ok := r.s.items[id]
		if !ok {
			return nil, repositories.NewStockError(repositories.StockErrorNotFound, id, "", notFound("stock.commit", id))
		}
		if !item.IsActive {
			return nil, repositories.NewStockError(repositories.StockErrorInactive, id, "", nil)
		}
		if item.Stock.Units < totals[id] {
			return nil, repositories.NewInsufficientStockError(id, totals[id], item.Stock.Units)
		}
		item.Stock = item.WithUnits(item.Stock.Units - totals[id])
		item.UpdatedAt = now
		updated = append(updated, item)
	}
	for _, item := range updated {
		r.s.items[item.ID] = item
	}
	return updated, nil
}

func (r stockRepository) MarkOut(ctx context.Context, itemID string, now time.Time) (domain.CatalogItem, error) {
	return r.mutate(ctx, "stock.markOut", itemID, func(item *domain.CatalogItem) error {
		item.Stock = domain.StockLevel{}
		item.UpdatedAt = now
		return nil
	})
}

func (r stockRepository) Restock(ctx context.Context, itemID string, units int, now time.Time) (domain.CatalogItem, error) {
	if units <= 0 {
		return domain.CatalogItem{}, repositories.NewStockError(repositories.StockErrorInvalidInput, itemID, "restock units must be positive", nil)
	}
	return r.mutate(ctx, "stock.restock", itemID, func(item *domain.CatalogItem) error {
		item.Stock = item.WithUnits(item.Stock.Units + units)
		item.UpdatedAt = now
		return nil
	})
}

func (r stockRepository) SetAlert(ctx context.Context, itemID string, alert domain.StockAlert, now time.Time) (domain.CatalogItem, error) {
	return r.mutate(ctx, "stock.setAlert", itemID, func(item *domain.CatalogItem) error {
		item.Alert = alert
		item.UpdatedAt = now
		return nil
	})
}

func (r stockRepository) mutate(ctx context.Context, op, itemID string, fn func(*domain.CatalogItem) error) (domain.CatalogItem, error) {
	defer r.s.lock(ctx)()
	item, ok := r.s.items[itemID]
	if !ok {
		return domain.CatalogItem{}, repositories.NewStockError(repositories.StockErrorNotFound, itemID, "", notFound(op, itemID))
	}
	if err := fn(&item); err != nil {
		return domain.CatalogItem{}, err
	}
	r.s.items[itemID] = item
	return item, nil
}

func (r stockRepository) ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.CatalogItem], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.CatalogItem]{}, err
	}
	size := pagination.Clamp(pager.PageSize)

	defer r.s.lock(ctx)()
	var low []domain.CatalogItem
	for _, item := range r.s.items {
		if item.IsActive && item.LowStock() && item.ID > cursor.ID {
			low = append(low, item)
		}
	}
	sort.Slice(low, func(i, j int) bool { return low[i].ID < low[j].ID })

	page := domain.CursorPage[domain.CatalogItem]{}
	if len(low) > size {
		low = low[:size]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{ID: low[size-1].ID})
	}
	page.Items = low
	return page, nil
}
