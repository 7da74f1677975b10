// Package store defines the persistence interface for the deal engine.
// PostgreSQL is the source of truth; Redis provides a read-through cache
// for the reference data hit on every form keystroke; the in-memory
// implementation backs tests and development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

// ErrNotFound is returned for missing deals. Reference lookups (warehouse,
// counterparty, snapshot) return nil without error instead, so a missing
// record degrades to a "no data" engine state rather than a fault.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The first block is the read-only
// collaborators the pricing/balance engine consumes; the second is deal
// persistence for the form endpoints.
type Store interface {
	// --- Engine read collaborators ---

	// FindPrices returns price records for the filter. Implementations may
	// pre-filter coarsely; the catalog re-applies the full predicate.
	// Order must be deterministic for identical inputs.
	FindPrices(ctx context.Context, f model.PriceFilter) ([]model.PriceRecord, error)

	// Snapshot derives the warehouse's balance and weighted-average cost
	// from the movement ledger as of the given instant. Returns nil when
	// the warehouse is unknown (no data yet).
	Snapshot(ctx context.Context, warehouseID, productType string, at time.Time) (*model.WarehouseSnapshot, error)

	// UsedVolume sums the quantity drawn against a price record's contract
	// across existing deals. Inclusion policy — an explicit contract with
	// the engine: every non-deleted final deal counts, including a deal
	// currently being edited (at its stored quantity); drafts and deleted
	// deals do not.
	UsedVolume(ctx context.Context, priceID string) (decimal.Decimal, error)

	// FindDeliveryRate returns the per-kg carrier rate for the key, or nil
	// when the rate table has no matching row.
	FindDeliveryRate(ctx context.Context, key model.DeliveryRateKey) (*decimal.Decimal, error)

	// GetWarehouse returns the warehouse record, or nil when unknown.
	GetWarehouse(ctx context.Context, id string) (*model.Warehouse, error)

	// GetCounterparty returns the counterparty record, or nil when unknown.
	GetCounterparty(ctx context.Context, id string) (*model.Counterparty, error)

	// --- Deal persistence ---

	// CreateDeal persists a new deal.
	CreateDeal(ctx context.Context, deal *model.Deal) error

	// UpdateDeal replaces a stored deal in place.
	UpdateDeal(ctx context.Context, deal *model.Deal) error

	// GetDeal retrieves a deal by id.
	GetDeal(ctx context.Context, id string) (*model.Deal, error)

	// ListDeals returns all non-deleted deals, newest first.
	ListDeals(ctx context.Context) ([]model.Deal, error)
}
