// Package warehouse computes a warehouse's usable fuel balance and
// weighted-average cost as of an arbitrary date, reconciling the historical
// snapshot with the current one so that date edits cannot borrow fuel from
// the future.
//
// All quantities and costs use shopspring/decimal — never float64.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

// User-facing status messages. The host application is Russian-language;
// these strings are part of the engine's contract with its forms.
const (
	MsgLoading      = "Загрузка..."
	MsgEmpty        = "склад пуст"
	MsgNoCost       = "нет себестоимости"
	MsgOnHand       = "на складе: %s кг"
	MsgRemaining    = "остаток на складе: %s кг"
	MsgInsufficient = "недостаточно топлива: остаток %s кг"
)

// SnapshotSource is the read collaborator backing the calculator. Snapshot
// returns nil (without error) when no data is available yet for the
// warehouse; the calculator reports that as a non-blocking loading state.
type SnapshotSource interface {
	Snapshot(ctx context.Context, warehouseID, productType string, at time.Time) (*model.WarehouseSnapshot, error)
	GetWarehouse(ctx context.Context, id string) (*model.Warehouse, error)
}

// Query describes one feasibility check. OriginalQuantityKg is the stored
// quantity of the deal being edited; it is ignored unless Editing is set.
type Query struct {
	WarehouseID        string
	ProductType        string
	Date               time.Time
	QuantityKg         decimal.Decimal
	Editing            bool
	OriginalQuantityKg decimal.Decimal
}

// Result is the feasibility verdict. Like the rest of the engine, an
// infeasible quantity is a computed value, not an error.
type Result struct {
	UsableBalanceKg  decimal.Decimal `json:"usable_balance_kg"`
	AverageCostPerKg decimal.Decimal `json:"average_cost_per_kg"`
	OK               bool            `json:"ok"`
	Message          string          `json:"message"`
}

// Calculator fetches the two snapshots and assesses feasibility.
// The clock is injectable for tests.
type Calculator struct {
	src SnapshotSource
	now func() time.Time
}

// NewCalculator creates a calculator over the given snapshot source.
func NewCalculator(src SnapshotSource) *Calculator {
	return &Calculator{src: src, now: time.Now}
}

// NewCalculatorAt creates a calculator with a fixed clock, for tests.
func NewCalculatorAt(src SnapshotSource, now func() time.Time) *Calculator {
	return &Calculator{src: src, now: now}
}

// BalanceAt computes the usable balance and average cost for the query.
// Store errors propagate; everything else comes back as a Result.
func (c *Calculator) BalanceAt(ctx context.Context, q Query) (Result, error) {
	hist, err := c.src.Snapshot(ctx, q.WarehouseID, q.ProductType, q.Date)
	if err != nil {
		return Result{}, fmt.Errorf("historical snapshot %s/%s: %w", q.WarehouseID, q.ProductType, err)
	}
	curr, err := c.src.Snapshot(ctx, q.WarehouseID, q.ProductType, c.now())
	if err != nil {
		return Result{}, fmt.Errorf("current snapshot %s/%s: %w", q.WarehouseID, q.ProductType, err)
	}

	fallbackCost := decimal.Zero
	wh, err := c.src.GetWarehouse(ctx, q.WarehouseID)
	if err != nil {
		return Result{}, fmt.Errorf("warehouse %s: %w", q.WarehouseID, err)
	}
	if wh != nil {
		fallbackCost = wh.AverageCostPerKg
	}

	return Assess(hist, curr, fallbackCost, q), nil
}

// Assess is the pure core of the calculator.
//
// Usable balance is min(historical, current): the historical snapshot keeps
// a back-dated deal from spending fuel that had not arrived yet, the
// current one keeps a date edit from borrowing fuel that has since been
// spent. When editing, the deal's stored quantity is added back — the
// ledger already carries its outbound movement, and without the add-back
// the edit would subtract it twice.
//
// The status ladder runs in a fixed order: loading, empty warehouse,
// missing cost, then the quantity check. Emptiness is reported before the
// missing cost because it is the more actionable failure for the user.
func Assess(hist, curr *model.WarehouseSnapshot, fallbackAvgCost decimal.Decimal, q Query) Result {
	if hist == nil || curr == nil {
		return Result{OK: true, Message: MsgLoading}
	}

	usable := decimal.Min(hist.BalanceKg, curr.BalanceKg)
	if q.Editing {
		usable = usable.Add(q.OriginalQuantityKg)
	}

	avgCost := hist.AverageCostPerKg
	if avgCost.LessThanOrEqual(decimal.Zero) {
		avgCost = fallbackAvgCost
	}

	if usable.LessThanOrEqual(decimal.Zero) {
		return Result{UsableBalanceKg: usable, AverageCostPerKg: avgCost, OK: false, Message: MsgEmpty}
	}
	if avgCost.LessThanOrEqual(decimal.Zero) {
		return Result{UsableBalanceKg: usable, OK: false, Message: MsgNoCost}
	}
	if q.QuantityKg.LessThanOrEqual(decimal.Zero) {
		return Result{
			UsableBalanceKg:  usable,
			AverageCostPerKg: avgCost,
			OK:               true,
			Message:          fmt.Sprintf(MsgOnHand, usable),
		}
	}

	remaining := usable.Sub(q.QuantityKg)
	if remaining.IsNegative() {
		return Result{
			UsableBalanceKg:  usable,
			AverageCostPerKg: avgCost,
			OK:               false,
			Message:          fmt.Sprintf(MsgInsufficient, remaining),
		}
	}
	return Result{
		UsableBalanceKg:  usable,
		AverageCostPerKg: avgCost,
		OK:               true,
		Message:          fmt.Sprintf(MsgRemaining, remaining),
	}
}
