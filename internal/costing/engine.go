// Package costing derives the final per-deal figures: purchase and sale
// amounts, delivery and storage cost, commission, and profit.
//
// Amount fields use nil to mean "uncomputable"; cost roll-up fields default
// to zero. All monetary arithmetic uses shopspring/decimal — never float64
// for money — so repeated recomputation cannot drift.
package costing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/formula"
	"github.com/fuelex/deal-engine/internal/model"
)

// RateSource is the read collaborator backing the engine: the carrier rate
// table plus the warehouse and counterparty records needed to derive rate
// keys and storage tariffs. FindDeliveryRate returns nil when the table has
// no row for the key.
type RateSource interface {
	FindDeliveryRate(ctx context.Context, key model.DeliveryRateKey) (*decimal.Decimal, error)
	GetWarehouse(ctx context.Context, id string) (*model.Warehouse, error)
	GetCounterparty(ctx context.Context, id string) (*model.Counterparty, error)
}

// Commission input modes. Exactly one mode is active at a time; switching
// modes on the form clears the other input.
const (
	CommissionNone    = ""
	CommissionManual  = "manual"
	CommissionFormula = "formula"
)

// CommissionSpec is the explicit two-mode commission input. A manual value
// always wins over a formula; the mode field makes that precedence a state,
// not a race between two fields.
type CommissionSpec struct {
	Mode    string          `json:"mode"`
	Manual  decimal.Decimal `json:"manual,omitempty"`
	Formula string          `json:"formula,omitempty"`
}

// Draft is the transient form state the engine prices. It carries already-
// resolved unit prices (see internal/pricing); nil means the side has no
// applicable price.
type Draft struct {
	QuantityKg    decimal.Decimal
	PurchasePrice *decimal.Decimal
	SalePrice     *decimal.Decimal
	ExchangeRate  decimal.Decimal

	SupplierID        string
	CarrierID         string
	SourceWarehouseID string // set for internal movements
	DestWarehouseID   string
	DestBasisID       string

	Commission CommissionSpec
}

// Quote is the priced deal. PurchaseAmount, SaleAmount and Profit are nil
// when their inputs are unknown; DeliveryCost, StorageCost, Commission,
// TotalCost and CostPerKg always carry a number (zero when inapplicable).
type Quote struct {
	PurchaseAmount *decimal.Decimal `json:"purchase_amount"`
	SaleAmount     *decimal.Decimal `json:"sale_amount"`
	DeliveryCost   decimal.Decimal  `json:"delivery_cost"`
	StorageCost    decimal.Decimal  `json:"storage_cost"`
	Commission     decimal.Decimal  `json:"commission"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	CostPerKg      decimal.Decimal  `json:"cost_per_kg"`
	Profit         *decimal.Decimal `json:"profit"`
}

// Engine composes the per-deal cost roll-up. Pure given its inputs; the
// only calls out are reads against the rate source.
type Engine struct {
	src RateSource
}

// NewEngine creates a cost engine over the given rate source.
func NewEngine(src RateSource) *Engine {
	return &Engine{src: src}
}

// Price computes the full quote for a draft. Store errors propagate;
// missing rate-table rows and unpriced sides degrade to zero/nil fields.
func (e *Engine) Price(ctx context.Context, dr Draft) (Quote, error) {
	var q Quote
	qty := dr.QuantityKg
	hasQty := qty.IsPositive()

	if dr.PurchasePrice != nil && hasQty {
		amount := dr.PurchasePrice.Mul(qty)
		q.PurchaseAmount = &amount
	}
	if dr.SalePrice != nil && hasQty {
		amount := dr.SalePrice.Mul(qty)
		q.SaleAmount = &amount
	}

	if hasQty {
		delivery, err := e.deliveryCost(ctx, dr)
		if err != nil {
			return Quote{}, err
		}
		q.DeliveryCost = delivery.Mul(qty)

		storage, err := e.storageTariffPerKg(ctx, dr.DestWarehouseID)
		if err != nil {
			return Quote{}, err
		}
		q.StorageCost = storage.Mul(qty)
	}

	q.Commission = resolveCommission(dr)

	q.TotalCost = q.StorageCost.Add(q.DeliveryCost)
	if q.PurchaseAmount != nil {
		q.TotalCost = q.TotalCost.Add(*q.PurchaseAmount)
	}
	if hasQty {
		q.CostPerKg = q.TotalCost.Div(qty)
	}

	if q.PurchaseAmount != nil && q.SaleAmount != nil {
		profit := q.SaleAmount.Sub(*q.PurchaseAmount).Sub(q.DeliveryCost).Sub(q.Commission)
		q.Profit = &profit
	}

	return q, nil
}

// deliveryCost returns the per-kg carrier rate for the draft, or zero when
// no carrier is involved or the rate table has no matching row.
//
// The from-entity is the movement's source warehouse when set; otherwise it
// is derived from the supplier — its own warehouse if it has one, else its
// first associated basis.
func (e *Engine) deliveryCost(ctx context.Context, dr Draft) (decimal.Decimal, error) {
	if dr.CarrierID == "" {
		return decimal.Zero, nil
	}

	fromType, fromID, err := e.fromEntity(ctx, dr)
	if err != nil {
		return decimal.Zero, err
	}
	if fromID == "" {
		return decimal.Zero, nil
	}

	toType, toID := model.EntityBasis, dr.DestBasisID
	if dr.DestWarehouseID != "" {
		toType, toID = model.EntityWarehouse, dr.DestWarehouseID
	}
	if toID == "" {
		return decimal.Zero, nil
	}

	rate, err := e.src.FindDeliveryRate(ctx, model.DeliveryRateKey{
		CarrierID:      dr.CarrierID,
		FromEntityType: fromType,
		FromEntityID:   fromID,
		ToEntityType:   toType,
		ToEntityID:     toID,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("delivery rate %s: %w", dr.CarrierID, err)
	}
	if rate == nil {
		return decimal.Zero, nil
	}
	return *rate, nil
}

func (e *Engine) fromEntity(ctx context.Context, dr Draft) (string, string, error) {
	if dr.SourceWarehouseID != "" {
		return model.EntityWarehouse, dr.SourceWarehouseID, nil
	}
	if dr.SupplierID == "" {
		return "", "", nil
	}
	cp, err := e.src.GetCounterparty(ctx, dr.SupplierID)
	if err != nil {
		return "", "", fmt.Errorf("counterparty %s: %w", dr.SupplierID, err)
	}
	if cp == nil {
		return "", "", nil
	}
	if cp.WarehouseID != "" {
		return model.EntityWarehouse, cp.WarehouseID, nil
	}
	if len(cp.BasisIDs) > 0 {
		return model.EntityBasis, cp.BasisIDs[0], nil
	}
	return "", "", nil
}

// storageTariffPerKg converts a destination warehouse's per-ton storage
// tariff to per-kg. Zero when the deal lands nowhere or the warehouse has
// no tariff configured.
func (e *Engine) storageTariffPerKg(ctx context.Context, warehouseID string) (decimal.Decimal, error) {
	if warehouseID == "" {
		return decimal.Zero, nil
	}
	wh, err := e.src.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("warehouse %s: %w", warehouseID, err)
	}
	if wh == nil || !wh.StorageCostPerTon.IsPositive() {
		return decimal.Zero, nil
	}
	return wh.StorageCostPerTon.Div(decimal.NewFromInt(1000)), nil
}

// resolveCommission applies the two-mode precedence: a manual value is used
// as-is; a formula evaluates against the draft's variables and degrades to
// zero on any failure — a bad formula never aborts the deal.
func resolveCommission(dr Draft) decimal.Decimal {
	switch dr.Commission.Mode {
	case CommissionManual:
		return dr.Commission.Manual
	case CommissionFormula:
		vars := formula.Vars{
			Quantity:     dr.QuantityKg,
			ExchangeRate: dr.ExchangeRate,
		}
		if dr.PurchasePrice != nil {
			vars.PurchasePrice = *dr.PurchasePrice
		}
		if dr.SalePrice != nil {
			vars.SalePrice = *dr.SalePrice
		}
		if v := formula.Evaluate(dr.Commission.Formula, vars); v != nil {
			return *v
		}
	}
	return decimal.Zero
}
