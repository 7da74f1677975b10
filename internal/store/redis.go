package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the reference data the form hits on every keystroke: warehouse
// and counterparty records and per-filter price lists. Balance snapshots and
// contract usage are never cached — a stale answer there lets a deal
// overdraw; they always pass through to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) FindPrices(ctx context.Context, f model.PriceFilter) ([]model.PriceRecord, error) {
	key := pricesKey(f)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.PriceRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.FindPrices(ctx, f)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return records, nil
}

func (s *CachedStore) GetWarehouse(ctx context.Context, id string) (*model.Warehouse, error) {
	data, err := s.rdb.Get(ctx, warehouseKey(id)).Bytes()
	if err == nil {
		var w model.Warehouse
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	if w != nil {
		if data, err := json.Marshal(w); err == nil {
			s.rdb.Set(ctx, warehouseKey(id), data, s.ttl)
		}
	}
	return w, nil
}

func (s *CachedStore) GetCounterparty(ctx context.Context, id string) (*model.Counterparty, error) {
	data, err := s.rdb.Get(ctx, counterpartyKey(id)).Bytes()
	if err == nil {
		var cp model.Counterparty
		if json.Unmarshal(data, &cp) == nil {
			return &cp, nil
		}
	}

	cp, err := s.primary.GetCounterparty(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		if data, err := json.Marshal(cp); err == nil {
			s.rdb.Set(ctx, counterpartyKey(id), data, s.ttl)
		}
	}
	return cp, nil
}

func (s *CachedStore) FindDeliveryRate(ctx context.Context, key model.DeliveryRateKey) (*decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, rateKey(key)).Result()
	if err == nil {
		rate, derr := decimal.NewFromString(data)
		if derr == nil {
			return &rate, nil
		}
	}

	rate, err := s.primary.FindDeliveryRate(ctx, key)
	if err != nil {
		return nil, err
	}
	if rate != nil {
		s.rdb.Set(ctx, rateKey(key), rate.String(), s.ttl)
	}
	return rate, nil
}

// --- Passthrough (never cached: staleness would let deals overdraw) ---

func (s *CachedStore) Snapshot(ctx context.Context, warehouseID, productType string, at time.Time) (*model.WarehouseSnapshot, error) {
	return s.primary.Snapshot(ctx, warehouseID, productType, at)
}

func (s *CachedStore) UsedVolume(ctx context.Context, priceID string) (decimal.Decimal, error) {
	return s.primary.UsedVolume(ctx, priceID)
}

// --- Deal writes (write to primary, invalidate) ---

func (s *CachedStore) CreateDeal(ctx context.Context, deal *model.Deal) error {
	return s.primary.CreateDeal(ctx, deal)
}

func (s *CachedStore) UpdateDeal(ctx context.Context, deal *model.Deal) error {
	if err := s.primary.UpdateDeal(ctx, deal); err != nil {
		return err
	}
	s.rdb.Del(ctx, dealKey(deal.ID))
	return nil
}

func (s *CachedStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	data, err := s.rdb.Get(ctx, dealKey(id)).Bytes()
	if err == nil {
		var deal model.Deal
		if json.Unmarshal(data, &deal) == nil {
			return &deal, nil
		}
	}

	deal, err := s.primary.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(deal); err == nil {
		s.rdb.Set(ctx, dealKey(id), data, s.ttl)
	}
	return deal, nil
}

func (s *CachedStore) ListDeals(ctx context.Context) ([]model.Deal, error) {
	return s.primary.ListDeals(ctx)
}

// --- Cache keys ---

// pricesKey must carry every field some primary pre-filters on: Postgres
// narrows to (counterparty, role, kind), the memory store to counterparty
// only, and the catalog re-applies the rest of the predicate after the
// cache. A key coarser than the narrowest pre-filter would serve one
// filter's rows to another. Keep this in sync with FindPrices.
func pricesKey(f model.PriceFilter) string {
	return fmt.Sprintf("prices:%s:%s:%s", f.CounterpartyID, f.Role, f.Kind)
}

func warehouseKey(id string) string    { return fmt.Sprintf("warehouse:%s", id) }
func counterpartyKey(id string) string { return fmt.Sprintf("counterparty:%s", id) }
func dealKey(id string) string         { return fmt.Sprintf("deal:%s", id) }

func rateKey(k model.DeliveryRateKey) string {
	return fmt.Sprintf("rate:%s:%s:%s:%s:%s",
		k.CarrierID, k.FromEntityType, k.FromEntityID, k.ToEntityType, k.ToEntityID)
}
