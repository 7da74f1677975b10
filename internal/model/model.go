// Package model defines the core domain types shared across the deal engine.
// All monetary values and quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Counterparty roles in a price agreement.
const (
	RoleSupplier = "supplier"
	RoleBuyer    = "buyer"
)

// Counterparty types: wholesale partners and refueling (airline) partners
// carry separate price books.
const (
	KindWholesale = "wholesale"
	KindRefueling = "refueling"
)

// Fuel product types tracked per warehouse.
const (
	ProductKerosene = "kerosene"
	ProductPVKJ     = "pvkj"
)

// Deal statuses. Drafts bypass price/balance/contract validation and record
// only identifying fields; final deals are fully validated at submit time.
const (
	StatusDraft = "draft"
	StatusFinal = "final"
)

// Deal kinds mirror the application modules that produce them.
const (
	DealWholesale = "wholesale"
	DealMovement  = "movement"
	DealRefueling = "refueling"
)

// PriceRecord is one negotiated price agreement. Records are created and
// edited by a separate pricing module; the engine reads them only.
//
// PriceValues holds the raw serialized {"price": ...} entries as stored.
// A record may carry several tiered unit prices, each selectable by index;
// decoding happens lazily in the resolver so one malformed historical entry
// cannot block unrelated lookups.
type PriceRecord struct {
	ID             string          `json:"id" db:"id"`
	CounterpartyID string          `json:"counterparty_id" db:"counterparty_id"`
	Role           string          `json:"role" db:"role"` // "supplier" or "buyer"
	Kind           string          `json:"kind" db:"kind"` // "wholesale" or "refueling"
	ProductType    string          `json:"product_type" db:"product_type"`
	Basis          string          `json:"basis" db:"basis"`
	BasisID        string          `json:"basis_id" db:"basis_id"`
	DateFrom       time.Time       `json:"date_from" db:"date_from"`
	DateTo         time.Time       `json:"date_to" db:"date_to"` // inclusive
	TotalVolumeCap decimal.Decimal `json:"total_volume_cap" db:"total_volume_cap"` // <= 0 means unlimited
	IsActive       bool            `json:"is_active" db:"is_active"`
	PriceValues    []string        `json:"price_values" db:"price_values"`
}

// AppliesOn reports whether the record is applicable to the given date:
// active, with dateFrom <= d <= dateTo at day granularity (inclusive window).
func (r PriceRecord) AppliesOn(d time.Time) bool {
	if !r.IsActive {
		return false
	}
	day := Day(d)
	return !day.Before(Day(r.DateFrom)) && !day.After(Day(r.DateTo))
}

// Unlimited reports whether the record carries no total-volume cap.
func (r PriceRecord) Unlimited() bool {
	return r.TotalVolumeCap.LessThanOrEqual(decimal.Zero)
}

// Day truncates a timestamp to its UTC calendar day. Price windows and
// warehouse snapshots are day-granular.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PriceFilter identifies the price records applicable to one form state.
// BasisID takes precedence over Basis when both are set.
type PriceFilter struct {
	CounterpartyID string    `json:"counterparty_id"`
	Role           string    `json:"role"`
	Kind           string    `json:"kind"`
	ProductType    string    `json:"product_type"`
	Basis          string    `json:"basis,omitempty"`
	BasisID        string    `json:"basis_id,omitempty"`
	Date           time.Time `json:"date"`
}

// WarehouseSnapshot is a warehouse's fuel state for one product at a point
// in time, derived from the movement ledger by the store. A negative
// balance is an error state, never a valid target.
type WarehouseSnapshot struct {
	WarehouseID      string          `json:"warehouse_id"`
	ProductType      string          `json:"product_type"`
	At               time.Time       `json:"at"`
	BalanceKg        decimal.Decimal `json:"balance_kg"`
	AverageCostPerKg decimal.Decimal `json:"average_cost_per_kg"`
}

// Warehouse is the static warehouse record. AverageCostPerKg is the stored
// fallback used when a historical snapshot lacks a cost; StorageCostPerTon
// is the storage tariff applied to movements landing here.
type Warehouse struct {
	ID                string          `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	BasisID           string          `json:"basis_id" db:"basis_id"`
	AverageCostPerKg  decimal.Decimal `json:"average_cost_per_kg" db:"average_cost_per_kg"`
	StorageCostPerTon decimal.Decimal `json:"storage_cost_per_ton" db:"storage_cost_per_ton"`
}

// Counterparty is a supplier or buyer organization. WarehouseID is set when
// the counterparty owns a warehouse; BasisIDs lists its associated pickup/
// delivery locations in stored order.
type Counterparty struct {
	ID          string   `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	WarehouseID string   `json:"warehouse_id" db:"warehouse_id"`
	BasisIDs    []string `json:"basis_ids" db:"basis_ids"`
}

// Delivery rate table entity types.
const (
	EntityWarehouse = "warehouse"
	EntityBasis     = "basis"
)

// DeliveryRateKey identifies one row of the carrier rate table.
type DeliveryRateKey struct {
	CarrierID      string `json:"carrier_id"`
	FromEntityType string `json:"from_entity_type"`
	FromEntityID   string `json:"from_entity_id"`
	ToEntityType   string `json:"to_entity_type"`
	ToEntityID     string `json:"to_entity_id"`
}

// StockMovement is one signed quantity change in a warehouse's ledger.
// Snapshots are always computed by replaying movements up to a date; there
// is no separately stored balance that can drift.
type StockMovement struct {
	ID          string          `json:"id" db:"id"`
	WarehouseID string          `json:"warehouse_id" db:"warehouse_id"`
	ProductType string          `json:"product_type" db:"product_type"`
	Date        time.Time       `json:"date" db:"date"`
	QuantityKg  decimal.Decimal `json:"quantity_kg" db:"quantity_kg"` // signed: +inbound, -outbound
	CostPerKg   decimal.Decimal `json:"cost_per_kg" db:"cost_per_kg"` // acquisition cost for inbound
}

// Deal is a persisted transaction. The resolved numeric outputs are stored
// alongside the (priceId, valueIndex) references so later balance and
// contract recomputation is reproducible even if the price catalog changes.
//
// Pointer decimal fields mean "uncomputable" when nil; roll-up fields
// default to zero.
type Deal struct {
	ID          string    `json:"id" db:"id"`
	Kind        string    `json:"kind" db:"kind"`
	Status      string    `json:"status" db:"status"`
	Date        time.Time `json:"date" db:"date"`
	SupplierID  string    `json:"supplier_id" db:"supplier_id"`
	BuyerID     string    `json:"buyer_id" db:"buyer_id"`
	ProductType string    `json:"product_type" db:"product_type"`
	Basis       string    `json:"basis" db:"basis"`
	BasisID     string    `json:"basis_id" db:"basis_id"`

	QuantityKg decimal.Decimal `json:"quantity_kg" db:"quantity_kg"`

	PurchasePrice      *decimal.Decimal `json:"purchase_price" db:"purchase_price"`
	PurchasePriceID    string           `json:"purchase_price_id" db:"purchase_price_id"`
	PurchasePriceIndex int              `json:"purchase_price_index" db:"purchase_price_index"`
	SalePrice          *decimal.Decimal `json:"sale_price" db:"sale_price"`
	SalePriceID        string           `json:"sale_price_id" db:"sale_price_id"`
	SalePriceIndex     int              `json:"sale_price_index" db:"sale_price_index"`

	CarrierID         string `json:"carrier_id" db:"carrier_id"`
	SourceWarehouseID string `json:"source_warehouse_id" db:"source_warehouse_id"`
	DestWarehouseID   string `json:"dest_warehouse_id" db:"dest_warehouse_id"`
	DestBasisID       string `json:"dest_basis_id" db:"dest_basis_id"`

	PurchaseAmount *decimal.Decimal `json:"purchase_amount" db:"purchase_amount"`
	SaleAmount     *decimal.Decimal `json:"sale_amount" db:"sale_amount"`
	DeliveryCost   decimal.Decimal  `json:"delivery_cost" db:"delivery_cost"`
	StorageCost    decimal.Decimal  `json:"storage_cost" db:"storage_cost"`
	Commission     decimal.Decimal  `json:"commission" db:"commission"`
	TotalCost      decimal.Decimal  `json:"total_cost" db:"total_cost"`
	CostPerKg      decimal.Decimal  `json:"cost_per_kg" db:"cost_per_kg"`
	Profit         *decimal.Decimal `json:"profit" db:"profit"`

	Deleted   bool      `json:"deleted" db:"deleted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DrawsOn reports whether the deal consumes volume from the given price
// record's contract (on either side).
func (d Deal) DrawsOn(priceID string) bool {
	return priceID != "" && (d.PurchasePriceID == priceID || d.SalePriceID == priceID)
}
