package deal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelex/deal-engine/internal/deal"
	"github.com/fuelex/deal-engine/internal/model"
	"github.com/fuelex/deal-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// UUID-shaped price ids: the composite selection format relies on the
// segment count.
const (
	supplierPriceID = "3f8a1c2e-9b7d-4e61-8a52-0c93d1f4b7a0"
	buyerPriceID    = "7b2c4d6e-1f3a-4b5c-9d8e-2a4c6e8f0b1d"
)

func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := deal.NewService(ms, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/quote", svc.Quote)
	r.Get("/api/v1/prices", svc.ListPrices)
	r.Post("/api/v1/deals", svc.CreateDeal)
	r.Put("/api/v1/deals/{dealID}", svc.UpdateDeal)
	r.Get("/api/v1/deals/{dealID}", svc.GetDeal)
	r.Get("/api/v1/deals", svc.ListDeals)

	return ms, r
}

func seedPrice(ms *store.MemoryStore, id, counterpartyID, role string, capKg float64, values ...string) {
	ms.AddPrice(model.PriceRecord{
		ID:             id,
		CounterpartyID: counterpartyID,
		Role:           role,
		Kind:           model.KindWholesale,
		ProductType:    model.ProductKerosene,
		Basis:          "base-a",
		DateFrom:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:         time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC),
		TotalVolumeCap: d(capKg),
		IsActive:       true,
		PriceValues:    values,
	})
}

// seedWarehouse registers a warehouse holding the given balance at the
// given cost, in place since 2025-05-01.
func seedWarehouse(ms *store.MemoryStore, id string, balanceKg, costPerKg float64) {
	ms.AddWarehouse(model.Warehouse{ID: id, Name: id})
	ms.AddMovement(model.StockMovement{
		WarehouseID: id,
		ProductType: model.ProductKerosene,
		Date:        time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		QuantityKg:  d(balanceKg),
		CostPerKg:   d(costPerKg),
	})
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func baseRequest() deal.QuoteRequest {
	return deal.QuoteRequest{
		Kind:        model.DealWholesale,
		Date:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ProductType: model.ProductKerosene,
		Basis:       "base-a",
		QuantityKg:  d(1000),
	}
}

// --- Quote ---

func TestQuote_FullRecompute(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0, `{"price": 58.5}`)
	seedPrice(ms, buyerPriceID, "buy-1", model.RoleBuyer, 0, `{"price": 64}`)
	seedWarehouse(ms, "wh-1", 5000, 50)

	req := baseRequest()
	req.SupplierID = "sup-1"
	req.BuyerID = "buy-1"
	req.SourceWarehouseID = "wh-1"

	w := doJSON(t, router, "POST", "/api/v1/quote", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp deal.QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.NotNil(t, resp.Purchase)
	assert.True(t, resp.Purchase.UnitPrice.Equal(d(58.5)))
	assert.Equal(t, supplierPriceID, resp.Purchase.PriceID)
	require.NotNil(t, resp.Sale)
	assert.True(t, resp.Sale.UnitPrice.Equal(d(64)))

	require.NotNil(t, resp.Warehouse)
	assert.True(t, resp.Warehouse.OK)
	assert.True(t, resp.Warehouse.UsableBalanceKg.Equal(d(5000)))

	require.NotNil(t, resp.PurchaseContract)
	assert.True(t, resp.PurchaseContract.Unlimited)

	require.NotNil(t, resp.Costs.PurchaseAmount)
	assert.True(t, resp.Costs.PurchaseAmount.Equal(d(58500)))
	require.NotNil(t, resp.Costs.Profit)
	assert.True(t, resp.Costs.Profit.Equal(d(5500)), "profit: got %s", resp.Costs.Profit)
}

func TestQuote_TieredPriceSelection(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0,
		`{"price": 58.5}`, `{"price": 57.2}`)

	req := baseRequest()
	req.SupplierID = "sup-1"
	req.PurchasePriceID = supplierPriceID + "-1"

	w := doJSON(t, router, "POST", "/api/v1/quote", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp deal.QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Purchase)
	assert.True(t, resp.Purchase.UnitPrice.Equal(d(57.2)), "got %s", resp.Purchase.UnitPrice)
	assert.Equal(t, 1, resp.Purchase.ValueIndex)
}

func TestQuote_NoApplicablePrice(t *testing.T) {
	_, router := newTestEnv(t)

	req := baseRequest()
	req.SupplierID = "sup-unknown"

	w := doJSON(t, router, "POST", "/api/v1/quote", req)
	require.Equal(t, http.StatusOK, w.Code, "a missing price is a form state, not an error")

	var resp deal.QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Purchase)
	assert.Nil(t, resp.Costs.PurchaseAmount)
}

// --- Create: drafts bypass validation, final deals do not ---

func TestCreateDeal_DraftBypassesValidation(t *testing.T) {
	_, router := newTestEnv(t)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusDraft}
	req.SupplierID = "sup-without-prices"

	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got model.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.StatusDraft, got.Status)
	assert.Nil(t, got.PurchasePrice)
}

func TestCreateDeal_FinalBlockedOnMissingPrice(t *testing.T) {
	_, router := newTestEnv(t)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusFinal}
	req.SupplierID = "sup-without-prices"

	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), deal.MsgNoPurchasePrice)
}

func TestCreateDeal_FinalBlockedOnInsufficientBalance(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0, `{"price": 58.5}`)
	seedWarehouse(ms, "wh-1", 500, 50)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusFinal}
	req.SupplierID = "sup-1"
	req.SourceWarehouseID = "wh-1"

	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "недостаточно топлива")
}

func TestCreateDeal_FinalRecorded(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0, `{"price": 58.5}`)
	seedPrice(ms, buyerPriceID, "buy-1", model.RoleBuyer, 0, `{"price": 64}`)
	seedWarehouse(ms, "wh-1", 5000, 50)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusFinal}
	req.SupplierID = "sup-1"
	req.BuyerID = "buy-1"
	req.SourceWarehouseID = "wh-1"

	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got model.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, supplierPriceID, got.PurchasePriceID)
	assert.Equal(t, buyerPriceID, got.SalePriceID)
	require.NotNil(t, got.PurchasePrice)
	assert.True(t, got.PurchasePrice.Equal(d(58.5)))
	assert.True(t, got.TotalCost.Equal(d(58500)))
	assert.True(t, got.CostPerKg.Equal(d(58.5)))

	deals, err := ms.ListDeals(context.Background())
	require.NoError(t, err)
	require.Len(t, deals, 1)
}

// --- Contract volume across create and edit ---

func TestCreateDeal_ContractOverdraw(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 1000, `{"price": 58.5}`)

	// First deal draws 600 of the 1000 kg cap.
	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusFinal}
	req.SupplierID = "sup-1"
	req.QuantityKg = d(600)
	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var first model.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	// 500 more would overdraw by 100.
	req.QuantityKg = d(500)
	w = doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "превышен объём договора")

	// Editing the first deal does not double count its own 600.
	req.QuantityKg = d(400)
	w = doJSON(t, router, "PUT", "/api/v1/deals/"+first.ID, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// --- Editing: warehouse add-back ---

func TestUpdateDeal_AddsOriginalQuantityBack(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0, `{"price": 58.5}`)
	// 3300 in, 3200 out (the stored deal's withdrawal): 100 left.
	seedWarehouse(ms, "wh-1", 3300, 58.5)
	ms.AddMovement(model.StockMovement{
		WarehouseID: "wh-1",
		ProductType: model.ProductKerosene,
		Date:        time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC),
		QuantityKg:  d(-3200),
	})

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusFinal}
	req.SupplierID = "sup-1"
	req.SourceWarehouseID = "wh-1"
	req.QuantityKg = d(3200)

	stored := &model.Deal{
		ID: "deal-1", Kind: model.DealWholesale, Status: model.StatusFinal,
		Date: req.Date, SupplierID: "sup-1", ProductType: model.ProductKerosene,
		SourceWarehouseID: "wh-1", QuantityKg: d(3200),
	}
	require.NoError(t, ms.CreateDeal(context.Background(), stored))

	// Shrinking to 3000 fits once the stored 3200 is added back.
	req.QuantityKg = d(3000)
	w := doJSON(t, router, "PUT", "/api/v1/deals/deal-1", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 3500 exceeds what the warehouse ever held for this deal.
	req.QuantityKg = d(3500)
	w = doJSON(t, router, "PUT", "/api/v1/deals/deal-1", req)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

// --- Finalizing a stored draft: a creation as far as the offsets go ---

func TestUpdateDeal_FinalizingDraftCountsItsQuantity(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 1000, `{"price": 58.5}`)

	// A final deal draws 600 of the 1000 kg cap.
	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusFinal}
	req.SupplierID = "sup-1"
	req.QuantityKg = d(600)
	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// A 900 kg draft records fine — drafts bypass validation.
	req.Status = model.StatusDraft
	req.QuantityKg = d(900)
	w = doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var draft model.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))

	// Finalizing it must count its own 900: the draft was never part of
	// the aggregated usage, so the remaining 400 cannot cover it.
	req.Status = model.StatusFinal
	w = doJSON(t, router, "PUT", "/api/v1/deals/"+draft.ID, req)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "превышен объём договора")

	// Shrunk to fit the remaining capacity it finalizes.
	req.QuantityKg = d(400)
	w = doJSON(t, router, "PUT", "/api/v1/deals/"+draft.ID, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUpdateDeal_FinalizingDraftGetsNoBalanceAddBack(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0, `{"price": 58.5}`)
	seedWarehouse(ms, "wh-1", 500, 50)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusDraft}
	req.SupplierID = "sup-1"
	req.SourceWarehouseID = "wh-1"
	req.QuantityKg = d(900)
	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var draft model.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))

	// The draft's withdrawal never hit the ledger, so its stored 900 must
	// not be added back: 900 against 500 on hand is infeasible.
	req.Status = model.StatusFinal
	w = doJSON(t, router, "PUT", "/api/v1/deals/"+draft.ID, req)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "недостаточно топлива")
}

func TestUpdateDeal_NotFound(t *testing.T) {
	_, router := newTestEnv(t)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: model.StatusDraft}
	w := doJSON(t, router, "PUT", "/api/v1/deals/nope", req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Prices listing ---

func TestListPrices(t *testing.T) {
	ms, router := newTestEnv(t)
	seedPrice(ms, supplierPriceID, "sup-1", model.RoleSupplier, 0, `{"price": 58.5}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET",
		"/api/v1/prices?counterparty_id=sup-1&role=supplier&kind=wholesale&product_type=kerosene&basis=base-a&date=2025-06-01", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var records []model.PriceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, supplierPriceID, records[0].ID)

	// Out of the date window: empty list, still 200.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET",
		"/api/v1/prices?counterparty_id=sup-1&role=supplier&kind=wholesale&product_type=kerosene&basis=base-a&date=2024-01-01", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Empty(t, records)
}

func TestCreateDeal_InvalidStatus(t *testing.T) {
	_, router := newTestEnv(t)

	req := deal.DealRequest{QuoteRequest: baseRequest(), Status: "pending"}
	w := doJSON(t, router, "POST", "/api/v1/deals", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
