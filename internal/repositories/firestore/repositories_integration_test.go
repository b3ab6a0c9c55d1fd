//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carepoint-rx/api/internal/domain"
	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
	"github.com/carepoint-rx/api/internal/repositories"
)

func TestFirestoreRepositoriesIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "carepoint-test")
	reg, err := NewRegistry(provider, "test")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	seed := func(id string, units int) {
		t.Helper()
		err := reg.Stock().Upsert(ctx, domain.CatalogItem{
			ID:            id,
			Name:          "Item " + id,
			Kind:          domain.CatalogKindMedicine,
			PricePerUnit:  decimal.RequireFromString("12.50"),
			QtyPerPack:    10,
			Stock:         domain.StockLevel{Units: units},
			MinStockUnits: 5,
			IsActive:      true,
			UpdatedAt:     now,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	t.Run("concurrent commits never oversell", func(t *testing.T) {
		seed("med_race", 30)
		const workers = 12
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, err := reg.Stock().Commit(ctx, []repositories.StockCommitLine{{ItemID: "med_race", Quantity: 7}}, now)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				var stockErr *repositories.StockError
				if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
					t.Errorf("unexpected commit error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded != 4 {
			t.Fatalf("expected 4 successful commits, got %d", succeeded)
		}
		item, err := reg.Stock().Get(ctx, "med_race")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if item.Stock.Units != 2 || item.Stock.Packs != 0 {
			t.Fatalf("expected 2 units left, got %+v", item.Stock)
		}
	})

	t.Run("commit is all or nothing", func(t *testing.T) {
		seed("med_a", 10)
		seed("med_b", 1)
		_, err := reg.Stock().Commit(ctx, []repositories.StockCommitLine{
			{ItemID: "med_a", Quantity: 3},
			{ItemID: "med_b", Quantity: 2},
		}, now)
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.ItemID != "med_b" {
			t.Fatalf("expected shortfall on med_b, got %v", err)
		}
		item, _ := reg.Stock().Get(ctx, "med_a")
		if item.Stock.Units != 10 {
			t.Fatalf("expected med_a untouched, got %d", item.Stock.Units)
		}
	})

	t.Run("low stock listing", func(t *testing.T) {
		if _, err := reg.Stock().MarkOut(ctx, "med_a", now); err != nil {
			t.Fatalf("mark out: %v", err)
		}
		page, err := reg.Stock().ListLowStock(ctx, domain.Pagination{PageSize: 50})
		if err != nil {
			t.Fatalf("list low stock: %v", err)
		}
		ids := make([]string, 0, len(page.Items))
		for _, item := range page.Items {
			ids = append(ids, item.ID)
		}
		sort.Strings(ids)
		want := []string{"med_a", "med_b", "med_race"}
		if len(ids) != len(want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, ids)
			}
		}
	})

	t.Run("order version and open lookup", func(t *testing.T) {
		order := domain.Order{
			ID:         "ord_1",
			PatientRef: "pat_1",
			Type:       domain.OrderTypeOTC,
			Status:     domain.OrderStatusDraft,
			Items: []domain.OrderItem{{
				ID:            "line_1",
				MedicineRef:   "med_a",
				NameSnapshot:  "Item med_a",
				Quantity:      2,
				PriceSnapshot: decimal.RequireFromString("12.50"),
				IsAvailable:   true,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := reg.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
		stored, err := reg.Orders().FindByID(ctx, "ord_1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if stored.Version != 1 || !stored.Items[0].PriceSnapshot.Equal(decimal.RequireFromString("12.5")) {
			t.Fatalf("unexpected stored order %+v", stored)
		}

		stored.Status = domain.OrderStatusPending
		updated, err := reg.Orders().Update(ctx, stored)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Version != 2 {
			t.Fatalf("expected version 2, got %d", updated.Version)
		}
		_, err = reg.Orders().Update(ctx, stored)
		var fsErr *pfirestore.Error
		if !errors.As(err, &fsErr) || !fsErr.IsConflict() {
			t.Fatalf("expected conflict on stale update, got %v", err)
		}

		open, err := reg.Orders().ListOpenByMedicine(ctx, "med_a")
		if err != nil {
			t.Fatalf("list open: %v", err)
		}
		if len(open) != 1 || open[0].ID != "ord_1" {
			t.Fatalf("expected ord_1 to be open, got %+v", open)
		}
	})

	t.Run("counter sequence", func(t *testing.T) {
		const workers = 8
		results := make([]int64, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(idx int) {
				defer wg.Done()
				value, err := reg.Counters().Next(ctx, "orders", 1)
				if err != nil {
					t.Errorf("next(%d): %v", idx, err)
					return
				}
				results[idx] = value
			}(i)
		}
		wg.Wait()
		sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
		for i, val := range results {
			if val != int64(i+1) {
				t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
			}
		}
	})
}
