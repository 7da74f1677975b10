package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelex/deal-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func TestMemoryStore_SnapshotUnknownWarehouse(t *testing.T) {
	s := NewMemoryStore()
	snap, err := s.Snapshot(context.Background(), "wh-missing", model.ProductKerosene, day(2025, 6, 1))
	require.NoError(t, err)
	assert.Nil(t, snap, "unknown warehouse must read as no-data, not zero balance")
}

func TestMemoryStore_SnapshotReplay(t *testing.T) {
	s := NewMemoryStore()
	s.AddWarehouse(model.Warehouse{ID: "wh-1"})

	// 1000 kg at 50, then 1000 kg at 60: average 55.
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductKerosene,
		Date: day(2025, 5, 1), QuantityKg: d(1000), CostPerKg: d(50),
	})
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductKerosene,
		Date: day(2025, 5, 10), QuantityKg: d(1000), CostPerKg: d(60),
	})
	// Withdrawal spends at the average and does not move it.
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductKerosene,
		Date: day(2025, 5, 20), QuantityKg: d(-500),
	})

	snap, err := s.Snapshot(context.Background(), "wh-1", model.ProductKerosene, day(2025, 6, 1))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.BalanceKg.Equal(d(1500)), "balance: got %s", snap.BalanceKg)
	assert.True(t, snap.AverageCostPerKg.Equal(d(55)), "avg cost: got %s", snap.AverageCostPerKg)
}

func TestMemoryStore_SnapshotAsOfDate(t *testing.T) {
	s := NewMemoryStore()
	s.AddWarehouse(model.Warehouse{ID: "wh-1"})
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductKerosene,
		Date: day(2025, 5, 1), QuantityKg: d(1000), CostPerKg: d(50),
	})
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductKerosene,
		Date: day(2025, 5, 10), QuantityKg: d(-800),
	})

	// Back-dated read sees only the first movement.
	snap, err := s.Snapshot(context.Background(), "wh-1", model.ProductKerosene, day(2025, 5, 5))
	require.NoError(t, err)
	assert.True(t, snap.BalanceKg.Equal(d(1000)), "historical balance: got %s", snap.BalanceKg)

	snap, err = s.Snapshot(context.Background(), "wh-1", model.ProductKerosene, day(2025, 5, 15))
	require.NoError(t, err)
	assert.True(t, snap.BalanceKg.Equal(d(200)), "current balance: got %s", snap.BalanceKg)
}

func TestMemoryStore_SnapshotFiltersProduct(t *testing.T) {
	s := NewMemoryStore()
	s.AddWarehouse(model.Warehouse{ID: "wh-1"})
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductKerosene,
		Date: day(2025, 5, 1), QuantityKg: d(1000), CostPerKg: d(50),
	})
	s.AddMovement(model.StockMovement{
		WarehouseID: "wh-1", ProductType: model.ProductPVKJ,
		Date: day(2025, 5, 1), QuantityKg: d(300), CostPerKg: d(120),
	})

	snap, err := s.Snapshot(context.Background(), "wh-1", model.ProductPVKJ, day(2025, 6, 1))
	require.NoError(t, err)
	assert.True(t, snap.BalanceKg.Equal(d(300)))
	assert.True(t, snap.AverageCostPerKg.Equal(d(120)))
}

func TestMemoryStore_UsedVolumePolicy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	mk := func(id, status, priceID string, qty float64, deleted bool) *model.Deal {
		return &model.Deal{
			ID: id, Kind: model.DealWholesale, Status: status,
			PurchasePriceID: priceID, QuantityKg: d(qty), Deleted: deleted,
		}
	}

	require.NoError(t, s.CreateDeal(ctx, mk("d1", model.StatusFinal, "price-1", 600, false)))
	require.NoError(t, s.CreateDeal(ctx, mk("d2", model.StatusDraft, "price-1", 999, false)))
	require.NoError(t, s.CreateDeal(ctx, mk("d3", model.StatusFinal, "price-1", 400, true)))
	require.NoError(t, s.CreateDeal(ctx, mk("d4", model.StatusFinal, "price-2", 100, false)))

	// Final non-deleted deals on price-1 only: 600.
	used, err := s.UsedVolume(ctx, "price-1")
	require.NoError(t, err)
	assert.True(t, used.Equal(d(600)), "got %s", used)

	// A deal counts on the sale side too.
	require.NoError(t, s.CreateDeal(ctx, &model.Deal{
		ID: "d5", Status: model.StatusFinal, SalePriceID: "price-1", QuantityKg: d(150),
	}))
	used, err = s.UsedVolume(ctx, "price-1")
	require.NoError(t, err)
	assert.True(t, used.Equal(d(750)), "got %s", used)
}

func TestMemoryStore_DealLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	deal := &model.Deal{ID: "d1", Status: model.StatusDraft, QuantityKg: d(100)}
	require.NoError(t, s.CreateDeal(ctx, deal))
	assert.Error(t, s.CreateDeal(ctx, deal), "duplicate id must fail")

	got, err := s.GetDeal(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)

	// Mutating the returned copy must not affect the store.
	got.Status = model.StatusFinal
	again, err := s.GetDeal(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, again.Status)

	deal.Status = model.StatusFinal
	require.NoError(t, s.UpdateDeal(ctx, deal))

	_, err = s.GetDeal(ctx, "d-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateDeal(ctx, &model.Deal{ID: "d-missing"}), ErrNotFound)
}

func TestMemoryStore_ListDealsNewestFirstNonDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateDeal(ctx, &model.Deal{ID: "d1", Status: model.StatusFinal}))
	require.NoError(t, s.CreateDeal(ctx, &model.Deal{ID: "d2", Status: model.StatusFinal}))
	require.NoError(t, s.CreateDeal(ctx, &model.Deal{ID: "d3", Status: model.StatusFinal}))

	gone := &model.Deal{ID: "d2", Status: model.StatusFinal, Deleted: true}
	require.NoError(t, s.UpdateDeal(ctx, gone))

	deals, err := s.ListDeals(ctx)
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, "d3", deals[0].ID)
	assert.Equal(t, "d1", deals[1].ID)
}

func TestMemoryStore_FindPricesFiltersCounterparty(t *testing.T) {
	s := NewMemoryStore()
	s.AddPrice(model.PriceRecord{ID: "p1", CounterpartyID: "cp-1"})
	s.AddPrice(model.PriceRecord{ID: "p2", CounterpartyID: "cp-2"})
	s.AddPrice(model.PriceRecord{ID: "p3", CounterpartyID: "cp-1"})

	records, err := s.FindPrices(context.Background(), model.PriceFilter{CounterpartyID: "cp-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p1", records[0].ID)
	assert.Equal(t, "p3", records[1].ID)
}
