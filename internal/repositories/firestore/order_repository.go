package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/carepoint-rx/api/internal/domain"
	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
	"github.com/carepoint-rx/api/internal/platform/pagination"
)

const ordersCollection = "orders"

var openStatuses = []string{
	string(domain.OrderStatusDraft),
	string(domain.OrderStatusPending),
	string(domain.OrderStatusConfirmed),
}

// OrderRepository persists the order aggregate in the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

// Update writes the order with an incremented version. Standalone calls compare the stored version
// inside their own transaction. Inside a caller's transaction the order must already have been read
// there, so the write is issued directly and Firestore aborts the transaction on a concurrent change.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	next := order
	next.Version = order.Version + 1

	if _, inTx := pfirestore.TransactionFrom(ctx); inTx {
		if err := r.orders.Set(ctx, order.ID, newOrderDocument(next)); err != nil {
			return domain.Order{}, err
		}
		return next, nil
	}

	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.orders.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Data.Version != order.Version {
			return pfirestore.NewConflictError(r.orders.Op("update"), "stale order version")
		}
		return r.orders.Set(ctx, order.ID, newOrderDocument(next))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return next, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first. Status filters use an "in" clause, so at most thirty statuses
// may be combined.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Clamp(filter.Pagination.PageSize)

	docs, err := r.orders.Find(ctx, func(q firestore.Query) firestore.Query {
		if filter.PatientRef != "" {
			q = q.Where("patientRef", "==", filter.PatientRef)
		}
		if filter.AssignedTo != "" {
			q = q.Where("assignedTo", "==", filter.AssignedTo)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.At, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > size {
		docs = docs[:size]
		last := docs[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{At: last.Data.CreatedAt, ID: last.ID})
	}
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// ListOpenByMedicine finds orders that still track availability for the catalog item via the
// denormalised itemRefs array.
func (r *OrderRepository) ListOpenByMedicine(ctx context.Context, medicineRef string) ([]domain.Order, error) {
	docs, err := r.orders.Find(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("itemRefs", "array-contains", medicineRef).Where("status", "in", openStatuses)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}
