package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps and a replayed movement
// ledger. Used for testing and development. Not suitable for production
// (no persistence).
type MemoryStore struct {
	mu             sync.RWMutex
	prices         []model.PriceRecord
	warehouses     map[string]model.Warehouse
	counterparties map[string]model.Counterparty
	rates          map[model.DeliveryRateKey]decimal.Decimal
	movements      []model.StockMovement
	deals          map[string]*model.Deal
	dealOrder      []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		warehouses:     make(map[string]model.Warehouse),
		counterparties: make(map[string]model.Counterparty),
		rates:          make(map[model.DeliveryRateKey]decimal.Decimal),
		deals:          make(map[string]*model.Deal),
	}
}

// --- Seed helpers (reference data is read-only to the engine) ---

// AddPrice seeds a price record.
func (s *MemoryStore) AddPrice(r model.PriceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, r)
}

// AddWarehouse seeds a warehouse record.
func (s *MemoryStore) AddWarehouse(w model.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warehouses[w.ID] = w
}

// AddCounterparty seeds a counterparty record.
func (s *MemoryStore) AddCounterparty(cp model.Counterparty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterparties[cp.ID] = cp
}

// AddRate seeds one row of the carrier rate table.
func (s *MemoryStore) AddRate(key model.DeliveryRateKey, costPerKg decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[key] = costPerKg
}

// AddMovement appends to the warehouse movement ledger.
func (s *MemoryStore) AddMovement(mv model.StockMovement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, mv)
}

// --- Engine read collaborators ---

func (s *MemoryStore) FindPrices(_ context.Context, f model.PriceFilter) ([]model.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Coarse pre-filter on counterparty; the catalog applies the rest.
	var result []model.PriceRecord
	for _, r := range s.prices {
		if r.CounterpartyID == f.CounterpartyID {
			result = append(result, r)
		}
	}
	return result, nil
}

// Snapshot replays the movement ledger up to the given instant. The
// weighted-average cost moves on inbound movements only; withdrawals spend
// at the running average and leave it unchanged.
func (s *MemoryStore) Snapshot(_ context.Context, warehouseID, productType string, at time.Time) (*model.WarehouseSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.warehouses[warehouseID]; !ok {
		return nil, nil // unknown warehouse: no data yet
	}

	var ledger []model.StockMovement
	for _, mv := range s.movements {
		if mv.WarehouseID == warehouseID && mv.ProductType == productType && !mv.Date.After(at) {
			ledger = append(ledger, mv)
		}
	}
	sort.SliceStable(ledger, func(i, j int) bool {
		return ledger[i].Date.Before(ledger[j].Date)
	})

	balance := decimal.Zero
	avg := decimal.Zero
	for _, mv := range ledger {
		if mv.QuantityKg.IsPositive() {
			prev := decimal.Max(balance, decimal.Zero)
			denom := prev.Add(mv.QuantityKg)
			avg = prev.Mul(avg).Add(mv.QuantityKg.Mul(mv.CostPerKg)).Div(denom)
		}
		balance = balance.Add(mv.QuantityKg)
	}

	return &model.WarehouseSnapshot{
		WarehouseID:      warehouseID,
		ProductType:      productType,
		At:               at,
		BalanceKg:        balance,
		AverageCostPerKg: avg,
	}, nil
}

func (s *MemoryStore) UsedVolume(_ context.Context, priceID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	used := decimal.Zero
	for _, deal := range s.deals {
		if deal.Deleted || deal.Status == model.StatusDraft {
			continue
		}
		if deal.DrawsOn(priceID) {
			used = used.Add(deal.QuantityKg)
		}
	}
	return used, nil
}

func (s *MemoryStore) FindDeliveryRate(_ context.Context, key model.DeliveryRateKey) (*decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.rates[key]; ok {
		return &rate, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetWarehouse(_ context.Context, id string) (*model.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.warehouses[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetCounterparty(_ context.Context, id string) (*model.Counterparty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cp, ok := s.counterparties[id]; ok {
		return &cp, nil
	}
	return nil, nil
}

// --- Deal persistence ---

func (s *MemoryStore) CreateDeal(_ context.Context, deal *model.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deals[deal.ID]; exists {
		return fmt.Errorf("deal %s already exists", deal.ID)
	}
	stored := *deal
	s.deals[deal.ID] = &stored
	s.dealOrder = append(s.dealOrder, deal.ID)
	return nil
}

func (s *MemoryStore) UpdateDeal(_ context.Context, deal *model.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deals[deal.ID]; !ok {
		return fmt.Errorf("update deal %s: %w", deal.ID, ErrNotFound)
	}
	stored := *deal
	s.deals[deal.ID] = &stored
	return nil
}

func (s *MemoryStore) GetDeal(_ context.Context, id string) (*model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deal, ok := s.deals[id]
	if !ok {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	result := *deal
	return &result, nil
}

func (s *MemoryStore) ListDeals(_ context.Context) ([]model.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deals := make([]model.Deal, 0, len(s.dealOrder))
	for i := len(s.dealOrder) - 1; i >= 0; i-- {
		deal := s.deals[s.dealOrder[i]]
		if deal.Deleted {
			continue
		}
		deals = append(deals, *deal)
	}
	return deals, nil
}
