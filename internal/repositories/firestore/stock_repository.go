package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/carepoint-rx/api/internal/domain"
	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
	"github.com/carepoint-rx/api/internal/platform/pagination"
	"github.com/carepoint-rx/api/internal/repositories"
)

const catalogItemsCollection = "catalogItems"

// StockRepository persists catalog items and their unit counts. Every decrement runs inside a
// Firestore transaction so concurrent confirmations never oversell.
type StockRepository struct {
	provider *pfirestore.Provider
	items    *pfirestore.Collection[catalogItemDocument]
}

// NewStockRepository constructs a Firestore-backed stock ledger.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider: provider,
		items:    pfirestore.NewCollection[catalogItemDocument](provider, catalogItemsCollection),
	}, nil
}

func (r *StockRepository) Get(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.CatalogItem{}, repositories.NewStockError(repositories.StockErrorInvalidInput, itemID, "item id is required", nil)
	}
	doc, err := r.items.Get(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, r.wrap(id, err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if strings.TrimSpace(item.ID) == "" || item.QtyPerPack <= 0 || item.Stock.Units < 0 {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, item.ID, "id, qtyPerPack and non-negative units are required", nil)
	}
	return r.items.Set(ctx, item.ID, newCatalogItemDocument(item))
}

// Commit reads every referenced item, validates the whole batch and only then writes. Firestore
// retries the transaction when a concurrent writer touched any of the documents.
func (r *StockRepository) Commit(ctx context.Context, lines []repositories.StockCommitLine, now time.Time) ([]domain.CatalogItem, error) {
	totals, ids, err := repositories.SumCommitLines(lines)
	if err != nil {
		return nil, err
	}

	var updated []domain.CatalogItem
	err = r.provider.RunInTx(ctx, func(ctx context.Context) error {
		docs, err := r.items.GetAll(ctx, ids)
		if err != nil {
			return err
		}
		updated = make([]domain.CatalogItem, 0, len(docs))
		for _, doc := range docs {
			if !doc.Exists {
				return repositories.NewStockError(repositories.StockErrorNotFound, doc.ID, "", nil)
			}
			item := doc.Data.toDomain(doc.ID)
			if !item.IsActive {
				return repositories.NewStockError(repositories.StockErrorInactive, doc.ID, "", nil)
			}
			want := totals[doc.ID]
			if item.Stock.Units < want {
				return repositories.NewInsufficientStockError(doc.ID, want, item.Stock.Units)
			}
			item.Stock = item.WithUnits(item.Stock.Units - want)
			item.UpdatedAt = now
			updated = append(updated, item)
		}
		for _, item := range updated {
			if err := r.items.Set(ctx, item.ID, newCatalogItemDocument(item)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			stockErr.Op = "stock.commit"
			return nil, stockErr
		}
		return nil, err
	}
	return updated, nil
}

func (r *StockRepository) MarkOut(ctx context.Context, itemID string, now time.Time) (domain.CatalogItem, error) {
	return r.mutate(ctx, itemID, func(item *domain.CatalogItem) {
		item.Stock = domain.StockLevel{}
		item.UpdatedAt = now
	})
}

func (r *StockRepository) Restock(ctx context.Context, itemID string, units int, now time.Time) (domain.CatalogItem, error) {
	if units <= 0 {
		return domain.CatalogItem{}, repositories.NewStockError(repositories.StockErrorInvalidInput, itemID, "restock units must be positive", nil)
	}
	return r.mutate(ctx, itemID, func(item *domain.CatalogItem) {
		item.Stock = item.WithUnits(item.Stock.Units + units)
		item.UpdatedAt = now
	})
}

func (r *StockRepository) SetAlert(ctx context.Context, itemID string, alert domain.StockAlert, now time.Time) (domain.CatalogItem, error) {
	return r.mutate(ctx, itemID, func(item *domain.CatalogItem) {
		item.Alert = alert
		item.UpdatedAt = now
	})
}

func (r *StockRepository) mutate(ctx context.Context, itemID string, fn func(*domain.CatalogItem)) (domain.CatalogItem, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.CatalogItem{}, repositories.NewStockError(repositories.StockErrorInvalidInput, itemID, "item id is required", nil)
	}
	doc, err := r.items.Mutate(ctx, id, func(current pfirestore.Document[catalogItemDocument]) (catalogItemDocument, error) {
		item := current.Data.toDomain(current.ID)
		fn(&item)
		return newCatalogItemDocument(item), nil
	})
	if err != nil {
		return domain.CatalogItem{}, r.wrap(id, err)
	}
	return doc.toDomain(id), nil
}

// ListLowStock relies on the denormalised lowStock flag written with every item update.
func (r *StockRepository) ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.CatalogItem], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.CatalogItem]{}, err
	}
	size := pagination.Clamp(pager.PageSize)

	docs, err := r.items.Find(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("lowStock", "==", true).OrderBy(firestore.DocumentID, firestore.Asc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.CatalogItem]{}, err
	}

	page := domain.CursorPage[domain.CatalogItem]{}
	if len(docs) > size {
		docs = docs[:size]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{ID: docs[size-1].ID})
	}
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

func (r *StockRepository) wrap(itemID string, err error) error {
	if pfirestore.IsNotFound(err) {
		return repositories.NewStockError(repositories.StockErrorNotFound, itemID, "", err)
	}
	return err
}
