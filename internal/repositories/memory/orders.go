package memory

import (
	"context"
	"sort"

	"github.com/carepoint-rx/api/internal/domain"
	"github.com/carepoint-rx/api/internal/platform/pagination"
)

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.orders[order.ID]; exists {
		return conflict("orders.insert", "order "+order.ID+" already exists")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	defer r.s.lock(ctx)()
	stored, ok := r.s.orders[order.ID]
	if !ok {
		return domain.Order{}, notFound("orders.update", order.ID)
	}
	if stored.Version != order.Version {
		return domain.Order{}, conflict("orders.update", "stale order version")
	}
	order.Version++
	r.s.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Clamp(filter.Pagination.PageSize)

	defer r.s.lock(ctx)()
	var matched []domain.Order
	for _, order := range r.s.orders {
		if matchesFilter(order, filter) && afterCursor(order, cursor) {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return newerFirst(matched[i], matched[j]) })

	page := domain.CursorPage[domain.Order]{}
	if len(matched) > size {
		matched = matched[:size]
		last := matched[size-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{At: last.CreatedAt, ID: last.ID})
	}
	for _, order := range matched {
		page.Items = append(page.Items, cloneOrder(order))
	}
	return page, nil
}

func (r orderRepository) ListOpenByMedicine(ctx context.Context, medicineRef string) ([]domain.Order, error) {
	defer r.s.lock(ctx)()
	var open []domain.Order
	for _, order := range r.s.orders {
		if order.Status.Open() && order.FindByMedicine(medicineRef) >= 0 {
			open = append(open, cloneOrder(order))
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

func matchesFilter(order domain.Order, filter domain.OrderListFilter) bool {
	if filter.PatientRef != "" && order.PatientRef != filter.PatientRef {
		return false
	}
	if filter.AssignedTo != "" && order.AssignedTo != filter.AssignedTo {
		return false
	}
	if len(filter.Status) == 0 {
		return true
	}
	for _, status := range filter.Status {
		if order.Status == status {
			return true
		}
	}
	return false
}

func newerFirst(a, b domain.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func afterCursor(order domain.Order, cursor pagination.Cursor) bool {
	if cursor.ID == "" {
		return true
	}
	return newerFirst(domain.Order{CreatedAt: cursor.At, ID: cursor.ID}, order)
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	order.StatusHistory = append([]domain.OrderStatusChange(nil), order.StatusHistory...)
	return order
}
