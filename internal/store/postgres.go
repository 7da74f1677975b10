package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindPrices(ctx context.Context, f model.PriceFilter) ([]model.PriceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, counterparty_id, role, kind, product_type, basis, basis_id,
		        date_from, date_to, total_volume_cap::TEXT, is_active, price_values
		 FROM prices
		 WHERE counterparty_id = $1 AND role = $2 AND kind = $3
		 ORDER BY date_from, id`,
		f.CounterpartyID, f.Role, f.Kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		var capS string
		if err := rows.Scan(&r.ID, &r.CounterpartyID, &r.Role, &r.Kind,
			&r.ProductType, &r.Basis, &r.BasisID,
			&r.DateFrom, &r.DateTo, &capS, &r.IsActive, &r.PriceValues); err != nil {
			return nil, err
		}
		r.TotalVolumeCap, _ = decimal.NewFromString(capS)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Snapshot aggregates the movement ledger in SQL. Weighted-average cost is
// taken over inbound movements only; outbound rows spend at the average.
func (s *PostgresStore) Snapshot(ctx context.Context, warehouseID, productType string, at time.Time) (*model.WarehouseSnapshot, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)`, warehouseID).
		Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", warehouseID, err)
	}
	if !exists {
		return nil, nil
	}

	var balanceS, avgS string
	err = s.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(quantity_kg), 0)::TEXT,
			COALESCE(
				SUM(CASE WHEN quantity_kg > 0 THEN quantity_kg * cost_per_kg ELSE 0 END)
				/ NULLIF(SUM(CASE WHEN quantity_kg > 0 THEN quantity_kg ELSE 0 END), 0),
				0)::TEXT
		 FROM stock_movements
		 WHERE warehouse_id = $1 AND product_type = $2 AND date <= $3`,
		warehouseID, productType, at).
		Scan(&balanceS, &avgS)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", warehouseID, err)
	}

	snap := model.WarehouseSnapshot{
		WarehouseID: warehouseID,
		ProductType: productType,
		At:          at,
	}
	snap.BalanceKg, _ = decimal.NewFromString(balanceS)
	snap.AverageCostPerKg, _ = decimal.NewFromString(avgS)
	return &snap, nil
}

func (s *PostgresStore) UsedVolume(ctx context.Context, priceID string) (decimal.Decimal, error) {
	var usedS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity_kg), 0)::TEXT
		 FROM deals
		 WHERE (purchase_price_id = $1 OR sale_price_id = $1)
		   AND status = $2 AND NOT deleted`,
		priceID, model.StatusFinal).
		Scan(&usedS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("used volume %s: %w", priceID, err)
	}
	used, _ := decimal.NewFromString(usedS)
	return used, nil
}

func (s *PostgresStore) FindDeliveryRate(ctx context.Context, key model.DeliveryRateKey) (*decimal.Decimal, error) {
	var rateS string
	err := s.pool.QueryRow(ctx,
		`SELECT cost_per_kg::TEXT FROM delivery_rates
		 WHERE carrier_id = $1
		   AND from_entity_type = $2 AND from_entity_id = $3
		   AND to_entity_type = $4 AND to_entity_id = $5`,
		key.CarrierID, key.FromEntityType, key.FromEntityID,
		key.ToEntityType, key.ToEntityID).
		Scan(&rateS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery rate %s: %w", key.CarrierID, err)
	}
	rate, _ := decimal.NewFromString(rateS)
	return &rate, nil
}

func (s *PostgresStore) GetWarehouse(ctx context.Context, id string) (*model.Warehouse, error) {
	var w model.Warehouse
	var avgS, storageS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, basis_id, average_cost_per_kg::TEXT, storage_cost_per_ton::TEXT
		 FROM warehouses WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.BasisID, &avgS, &storageS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get warehouse %s: %w", id, err)
	}

	w.AverageCostPerKg, _ = decimal.NewFromString(avgS)
	w.StorageCostPerTon, _ = decimal.NewFromString(storageS)
	return &w, nil
}

func (s *PostgresStore) GetCounterparty(ctx context.Context, id string) (*model.Counterparty, error) {
	var cp model.Counterparty

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(warehouse_id, ''), basis_ids
		 FROM counterparties WHERE id = $1`, id).
		Scan(&cp.ID, &cp.Name, &cp.WarehouseID, &cp.BasisIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get counterparty %s: %w", id, err)
	}
	return &cp, nil
}

const dealColumns = `id, kind, status, date, supplier_id, buyer_id, product_type,
	basis, basis_id, quantity_kg::TEXT,
	purchase_price::TEXT, purchase_price_id, purchase_price_index,
	sale_price::TEXT, sale_price_id, sale_price_index,
	carrier_id, source_warehouse_id, dest_warehouse_id, dest_basis_id,
	purchase_amount::TEXT, sale_amount::TEXT,
	delivery_cost::TEXT, storage_cost::TEXT, commission::TEXT,
	total_cost::TEXT, cost_per_kg::TEXT, profit::TEXT,
	deleted, created_at, updated_at`

func (s *PostgresStore) CreateDeal(ctx context.Context, deal *model.Deal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (id, kind, status, date, supplier_id, buyer_id, product_type,
			basis, basis_id, quantity_kg,
			purchase_price, purchase_price_id, purchase_price_index,
			sale_price, sale_price_id, sale_price_index,
			carrier_id, source_warehouse_id, dest_warehouse_id, dest_basis_id,
			purchase_amount, sale_amount,
			delivery_cost, storage_cost, commission, total_cost, cost_per_kg, profit,
			deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC,
			$11::NUMERIC, $12, $13, $14::NUMERIC, $15, $16,
			$17, $18, $19, $20,
			$21::NUMERIC, $22::NUMERIC,
			$23::NUMERIC, $24::NUMERIC, $25::NUMERIC, $26::NUMERIC, $27::NUMERIC, $28::NUMERIC,
			$29, $30, $31)`,
		deal.ID, deal.Kind, deal.Status, deal.Date, deal.SupplierID, deal.BuyerID,
		deal.ProductType, deal.Basis, deal.BasisID, deal.QuantityKg.String(),
		decStr(deal.PurchasePrice), deal.PurchasePriceID, deal.PurchasePriceIndex,
		decStr(deal.SalePrice), deal.SalePriceID, deal.SalePriceIndex,
		deal.CarrierID, deal.SourceWarehouseID, deal.DestWarehouseID, deal.DestBasisID,
		decStr(deal.PurchaseAmount), decStr(deal.SaleAmount),
		deal.DeliveryCost.String(), deal.StorageCost.String(), deal.Commission.String(),
		deal.TotalCost.String(), deal.CostPerKg.String(), decStr(deal.Profit),
		deal.Deleted, deal.CreatedAt, deal.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, deal *model.Deal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET
			kind = $2, status = $3, date = $4, supplier_id = $5, buyer_id = $6,
			product_type = $7, basis = $8, basis_id = $9, quantity_kg = $10::NUMERIC,
			purchase_price = $11::NUMERIC, purchase_price_id = $12, purchase_price_index = $13,
			sale_price = $14::NUMERIC, sale_price_id = $15, sale_price_index = $16,
			carrier_id = $17, source_warehouse_id = $18, dest_warehouse_id = $19, dest_basis_id = $20,
			purchase_amount = $21::NUMERIC, sale_amount = $22::NUMERIC,
			delivery_cost = $23::NUMERIC, storage_cost = $24::NUMERIC, commission = $25::NUMERIC,
			total_cost = $26::NUMERIC, cost_per_kg = $27::NUMERIC, profit = $28::NUMERIC,
			deleted = $29, updated_at = $30
		 WHERE id = $1`,
		deal.ID, deal.Kind, deal.Status, deal.Date, deal.SupplierID, deal.BuyerID,
		deal.ProductType, deal.Basis, deal.BasisID, deal.QuantityKg.String(),
		decStr(deal.PurchasePrice), deal.PurchasePriceID, deal.PurchasePriceIndex,
		decStr(deal.SalePrice), deal.SalePriceID, deal.SalePriceIndex,
		deal.CarrierID, deal.SourceWarehouseID, deal.DestWarehouseID, deal.DestBasisID,
		decStr(deal.PurchaseAmount), decStr(deal.SaleAmount),
		deal.DeliveryCost.String(), deal.StorageCost.String(), deal.Commission.String(),
		deal.TotalCost.String(), deal.CostPerKg.String(), decStr(deal.Profit),
		deal.Deleted, deal.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update deal %s: %w", deal.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)

	deal, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	return deal, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE NOT deleted ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	return deals, rows.Err()
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanDeal(row pgxRow) (*model.Deal, error) {
	var deal model.Deal
	var qtyS, deliveryS, storageS, commissionS, totalS, perKgS string
	var purchaseS, saleS, purchaseAmtS, saleAmtS, profitS *string

	err := row.Scan(&deal.ID, &deal.Kind, &deal.Status, &deal.Date,
		&deal.SupplierID, &deal.BuyerID, &deal.ProductType,
		&deal.Basis, &deal.BasisID, &qtyS,
		&purchaseS, &deal.PurchasePriceID, &deal.PurchasePriceIndex,
		&saleS, &deal.SalePriceID, &deal.SalePriceIndex,
		&deal.CarrierID, &deal.SourceWarehouseID, &deal.DestWarehouseID, &deal.DestBasisID,
		&purchaseAmtS, &saleAmtS,
		&deliveryS, &storageS, &commissionS, &totalS, &perKgS, &profitS,
		&deal.Deleted, &deal.CreatedAt, &deal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	deal.QuantityKg, _ = decimal.NewFromString(qtyS)
	deal.PurchasePrice = decPtr(purchaseS)
	deal.SalePrice = decPtr(saleS)
	deal.PurchaseAmount = decPtr(purchaseAmtS)
	deal.SaleAmount = decPtr(saleAmtS)
	deal.DeliveryCost, _ = decimal.NewFromString(deliveryS)
	deal.StorageCost, _ = decimal.NewFromString(storageS)
	deal.Commission, _ = decimal.NewFromString(commissionS)
	deal.TotalCost, _ = decimal.NewFromString(totalS)
	deal.CostPerKg, _ = decimal.NewFromString(perKgS)
	deal.Profit = decPtr(profitS)

	return &deal, nil
}

// decStr maps a nil decimal to SQL NULL.
func decStr(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// decPtr maps a NULL column back to a nil decimal.
func decPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, _ := decimal.NewFromString(*s)
	return &v
}
