// Package deal provides the HTTP handlers and orchestration for pricing,
// validating, and recording fuel deals. Every form keystroke maps to one
// quote recomputation over the same engine the submit path uses, so what the
// user sees is exactly what gets validated.
//
// All monetary values use shopspring/decimal — never float64 for money.
package deal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/costing"
	"github.com/fuelex/deal-engine/internal/metrics"
	"github.com/fuelex/deal-engine/internal/model"
	"github.com/fuelex/deal-engine/internal/pricing"
	"github.com/fuelex/deal-engine/internal/store"
	"github.com/fuelex/deal-engine/internal/volume"
	"github.com/fuelex/deal-engine/internal/warehouse"
)

// Missing-price messages surfaced on the deal forms.
const (
	MsgNoPurchasePrice = "нет закупочной цены"
	MsgNoSalePrice     = "нет цены продажи"
)

// Service handles deal operations. Uses a mutex to serialize submissions
// (single-instance): the contract and balance checks read aggregate state
// that the following insert changes. For horizontal scaling, replace with
// database-level locking.
type Service struct {
	store    store.Store
	catalog  *pricing.Catalog
	balances *warehouse.Calculator
	costs    *costing.Engine
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new deal service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{
		store:    st,
		catalog:  pricing.NewCatalog(st),
		balances: warehouse.NewCalculator(st),
		costs:    costing.NewEngine(st),
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// QuoteRequest is the transient form state. Price selections use the
// persisted composite form "<priceId>-<valueIndex>"; an empty selection
// means "use the default applicable price".
type QuoteRequest struct {
	Kind        string    `json:"kind"` // wholesale, movement or refueling
	Date        time.Time `json:"date"`
	SupplierID  string    `json:"supplier_id"`
	BuyerID     string    `json:"buyer_id"`
	ProductType string    `json:"product_type"`
	Basis       string    `json:"basis"`
	BasisID     string    `json:"basis_id"`

	QuantityKg decimal.Decimal `json:"quantity_kg"`

	PurchasePriceID string `json:"purchase_price_id"`
	SalePriceID     string `json:"sale_price_id"`

	CarrierID         string `json:"carrier_id"`
	SourceWarehouseID string `json:"source_warehouse_id"`
	DestWarehouseID   string `json:"dest_warehouse_id"`
	DestBasisID       string `json:"dest_basis_id"`

	ExchangeRate decimal.Decimal        `json:"exchange_rate"`
	Commission   costing.CommissionSpec `json:"commission"`

	// EditingDealID is set when the form re-prices an existing deal; the
	// stored quantity then offsets the contract and balance checks.
	EditingDealID string `json:"editing_deal_id,omitempty"`
}

// QuoteResponse is the full recomputed form state. Side results are nil
// when the side has no applicable price; check results are nil when the
// check does not apply to this deal shape.
type QuoteResponse struct {
	Purchase         *pricing.Resolved `json:"purchase"`
	Sale             *pricing.Resolved `json:"sale"`
	PurchaseContract *volume.Result    `json:"purchase_contract,omitempty"`
	SaleContract     *volume.Result    `json:"sale_contract,omitempty"`
	Warehouse        *warehouse.Result `json:"warehouse,omitempty"`
	Costs            costing.Quote     `json:"costs"`
}

// DealRequest is the JSON body for POST/PUT /api/v1/deals.
type DealRequest struct {
	QuoteRequest
	Status string `json:"status"` // "draft" or "final"
}

// --- HTTP Handlers ---

// Quote handles POST /api/v1/quote — the per-keystroke recomputation.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var original *model.Deal
	if req.EditingDealID != "" {
		var err error
		original, err = s.store.GetDeal(ctx, req.EditingDealID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "deal not found", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, "failed to load deal", http.StatusInternalServerError)
			return
		}
	}

	resp, err := s.quote(ctx, req, original)
	if err != nil {
		slog.Error("quote failed", "err", err)
		writeError(w, "failed to compute quote", http.StatusInternalServerError)
		return
	}
	metrics.QuotesTotal.Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListPrices handles GET /api/v1/prices — the applicable price records for
// one form state.
func (s *Service) ListPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.PriceFilter{
		CounterpartyID: q.Get("counterparty_id"),
		Role:           q.Get("role"),
		Kind:           q.Get("kind"),
		ProductType:    q.Get("product_type"),
		Basis:          q.Get("basis"),
		BasisID:        q.Get("basis_id"),
		Date:           time.Now().UTC(),
	}
	if raw := q.Get("date"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			writeError(w, "invalid date", http.StatusBadRequest)
			return
		}
		f.Date = parsed
	}

	records, err := s.catalog.Lookup(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list prices", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PriceRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// CreateDeal handles POST /api/v1/deals.
// Drafts persist with whatever the engine could compute; final deals are
// re-priced and validated under the submission lock.
func (s *Service) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req DealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status != model.StatusDraft && req.Status != model.StatusFinal {
		writeError(w, "status must be draft or final", http.StatusBadRequest)
		return
	}
	req.EditingDealID = ""

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.quote(ctx, req.QuoteRequest, nil)
	if err != nil {
		slog.Error("create deal: quote failed", "err", err)
		writeError(w, "failed to compute quote", http.StatusInternalServerError)
		return
	}

	if req.Status == model.StatusFinal {
		if reason, msg := blockers(req.QuoteRequest, q); reason != "" {
			metrics.ValidationFailures.WithLabelValues(reason).Inc()
			writeError(w, msg, http.StatusConflict)
			return
		}
	}

	now := time.Now().UTC()
	deal := buildDeal(req, q, uuid.New().String(), now, now)
	if err := s.store.CreateDeal(ctx, deal); err != nil {
		slog.Error("create deal failed", "err", err)
		writeError(w, "failed to record deal", http.StatusInternalServerError)
		return
	}

	s.recorded(deal, "deal_recorded")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(deal)
}

// UpdateDeal handles PUT /api/v1/deals/{dealID}.
// The stored deal supplies the original quantity that offsets the contract
// and warehouse checks while editing.
func (s *Service) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	var req DealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status != model.StatusDraft && req.Status != model.StatusFinal {
		writeError(w, "status must be draft or final", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	original, err := s.store.GetDeal(ctx, dealID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "deal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load deal", http.StatusInternalServerError)
		return
	}

	q, err := s.quote(ctx, req.QuoteRequest, original)
	if err != nil {
		slog.Error("update deal: quote failed", "deal", dealID, "err", err)
		writeError(w, "failed to compute quote", http.StatusInternalServerError)
		return
	}

	if req.Status == model.StatusFinal {
		if reason, msg := blockers(req.QuoteRequest, q); reason != "" {
			metrics.ValidationFailures.WithLabelValues(reason).Inc()
			writeError(w, msg, http.StatusConflict)
			return
		}
	}

	deal := buildDeal(req, q, dealID, original.CreatedAt, time.Now().UTC())
	if err := s.store.UpdateDeal(ctx, deal); err != nil {
		slog.Error("update deal failed", "deal", dealID, "err", err)
		writeError(w, "failed to update deal", http.StatusInternalServerError)
		return
	}

	s.recorded(deal, "deal_updated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deal)
}

// GetDeal handles GET /api/v1/deals/{dealID}.
func (s *Service) GetDeal(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	deal, err := s.store.GetDeal(r.Context(), dealID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "deal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load deal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deal)
}

// ListDeals handles GET /api/v1/deals.
func (s *Service) ListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.store.ListDeals(r.Context())
	if err != nil {
		writeError(w, "failed to list deals", http.StatusInternalServerError)
		return
	}
	if deals == nil {
		deals = []model.Deal{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deals)
}

// --- Quote computation ---

// quote recomputes the full form state: both price sides, the contract
// remainders, the warehouse feasibility, and the cost roll-up. original is
// the stored deal when editing, nil when creating.
//
// The editing offsets apply only when the stored deal is final: a final
// deal's quantity is already inside the aggregated contract usage and the
// warehouse ledger, so the checks must not count it twice. A stored draft
// is counted nowhere — finalizing it in place is a creation as far as the
// offsets are concerned.
func (s *Service) quote(ctx context.Context, req QuoteRequest, original *model.Deal) (QuoteResponse, error) {
	var resp QuoteResponse
	editing := original != nil && original.Status == model.StatusFinal

	purchase, purchaseRec, err := s.resolveSide(ctx, req, model.RoleSupplier, req.SupplierID, req.PurchasePriceID)
	if err != nil {
		return QuoteResponse{}, err
	}
	sale, saleRec, err := s.resolveSide(ctx, req, model.RoleBuyer, req.BuyerID, req.SalePriceID)
	if err != nil {
		return QuoteResponse{}, err
	}
	resp.Purchase, resp.Sale = purchase, sale

	if purchaseRec != nil {
		vr, err := s.contractRemaining(ctx, purchaseRec, req.QuantityKg, editing)
		if err != nil {
			return QuoteResponse{}, err
		}
		resp.PurchaseContract = &vr
	}
	if saleRec != nil {
		vr, err := s.contractRemaining(ctx, saleRec, req.QuantityKg, editing)
		if err != nil {
			return QuoteResponse{}, err
		}
		resp.SaleContract = &vr
	}

	if req.SourceWarehouseID != "" {
		wq := warehouse.Query{
			WarehouseID: req.SourceWarehouseID,
			ProductType: req.ProductType,
			Date:        req.Date,
			QuantityKg:  req.QuantityKg,
			Editing:     editing,
		}
		if editing {
			wq.OriginalQuantityKg = original.QuantityKg
		}
		wr, err := s.balances.BalanceAt(ctx, wq)
		if err != nil {
			return QuoteResponse{}, err
		}
		resp.Warehouse = &wr
	}

	draft := costing.Draft{
		QuantityKg:        req.QuantityKg,
		ExchangeRate:      req.ExchangeRate,
		SupplierID:        req.SupplierID,
		CarrierID:         req.CarrierID,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		DestBasisID:       req.DestBasisID,
		Commission:        req.Commission,
	}
	if purchase != nil {
		draft.PurchasePrice = &purchase.UnitPrice
	}
	if sale != nil {
		draft.SalePrice = &sale.UnitPrice
	}
	costs, err := s.costs.Price(ctx, draft)
	if err != nil {
		return QuoteResponse{}, err
	}
	resp.Costs = costs

	return resp, nil
}

// resolveSide resolves one price side: catalog lookup for the counterparty
// in the given role, then selection of one concrete unit price. Returns
// (nil, nil, nil) when the side is absent or no price applies — that is a
// form state, not an error.
func (s *Service) resolveSide(ctx context.Context, req QuoteRequest, role, counterpartyID, selectionID string) (*pricing.Resolved, *model.PriceRecord, error) {
	if counterpartyID == "" {
		return nil, nil, nil
	}

	records, err := s.catalog.Lookup(ctx, model.PriceFilter{
		CounterpartyID: counterpartyID,
		Role:           role,
		Kind:           priceKind(req.Kind),
		ProductType:    req.ProductType,
		Basis:          req.Basis,
		BasisID:        req.BasisID,
		Date:           req.Date,
	})
	if err != nil {
		return nil, nil, err
	}

	var sel *pricing.Selection
	if selectionID != "" {
		parsed := pricing.ParseSelectionID(selectionID)
		sel = &parsed
	}

	resolved := pricing.Resolve(records, sel)
	if resolved == nil {
		return nil, nil, nil
	}
	for i := range records {
		if records[i].ID == resolved.PriceID {
			return resolved, &records[i], nil
		}
	}
	return resolved, nil, nil
}

// contractRemaining computes the remaining capacity on a price record's
// contract. The aggregator's used volume already includes the edited deal's
// stored quantity, which is why the pending quantity is offset only when
// creating (see volume.Remaining).
func (s *Service) contractRemaining(ctx context.Context, rec *model.PriceRecord, pendingKg decimal.Decimal, editing bool) (volume.Result, error) {
	if rec.Unlimited() {
		return volume.Remaining(rec.TotalVolumeCap, decimal.Zero, pendingKg, editing), nil
	}
	used, err := s.store.UsedVolume(ctx, rec.ID)
	if err != nil {
		return volume.Result{}, err
	}
	return volume.Remaining(rec.TotalVolumeCap, used, pendingKg, editing), nil
}

// priceKind maps a deal kind to the price book it draws from: refueling
// deals price against the refueling book, everything else against wholesale.
func priceKind(dealKind string) string {
	if dealKind == model.DealRefueling {
		return model.KindRefueling
	}
	return model.KindWholesale
}

// blockers returns the first validation failure that blocks a final
// submission, as a (metrics reason, user message) pair. Empty reason means
// the deal may be recorded. Drafts never pass through here.
func blockers(req QuoteRequest, q QuoteResponse) (string, string) {
	if req.SupplierID != "" && q.Purchase == nil {
		return "missing_price", MsgNoPurchasePrice
	}
	if req.BuyerID != "" && q.Sale == nil {
		return "missing_price", MsgNoSalePrice
	}
	if q.Warehouse != nil && !q.Warehouse.OK {
		return "insufficient_balance", q.Warehouse.Message
	}
	if q.PurchaseContract != nil && !q.PurchaseContract.OK {
		return "contract_overdraw", q.PurchaseContract.Message
	}
	if q.SaleContract != nil && !q.SaleContract.OK {
		return "contract_overdraw", q.SaleContract.Message
	}
	return "", ""
}

// buildDeal materializes a persisted deal from the request and its quote.
// The resolved (priceId, valueIndex) pairs are stored alongside the numbers
// so later recomputation is reproducible.
func buildDeal(req DealRequest, q QuoteResponse, id string, createdAt, updatedAt time.Time) *model.Deal {
	deal := &model.Deal{
		ID:          id,
		Kind:        req.Kind,
		Status:      req.Status,
		Date:        req.Date,
		SupplierID:  req.SupplierID,
		BuyerID:     req.BuyerID,
		ProductType: req.ProductType,
		Basis:       req.Basis,
		BasisID:     req.BasisID,
		QuantityKg:  req.QuantityKg,

		CarrierID:         req.CarrierID,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		DestBasisID:       req.DestBasisID,

		PurchaseAmount: q.Costs.PurchaseAmount,
		SaleAmount:     q.Costs.SaleAmount,
		DeliveryCost:   q.Costs.DeliveryCost,
		StorageCost:    q.Costs.StorageCost,
		Commission:     q.Costs.Commission,
		TotalCost:      q.Costs.TotalCost,
		CostPerKg:      q.Costs.CostPerKg,
		Profit:         q.Costs.Profit,

		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	if q.Purchase != nil {
		price := q.Purchase.UnitPrice
		deal.PurchasePrice = &price
		deal.PurchasePriceID = q.Purchase.PriceID
		deal.PurchasePriceIndex = q.Purchase.ValueIndex
	}
	if q.Sale != nil {
		price := q.Sale.UnitPrice
		deal.SalePrice = &price
		deal.SalePriceID = q.Sale.PriceID
		deal.SalePriceIndex = q.Sale.ValueIndex
	}

	return deal
}

// recorded logs and broadcasts a persisted deal.
func (s *Service) recorded(deal *model.Deal, event string) {
	slog.Info(event,
		"deal", deal.ID,
		"kind", deal.Kind,
		"status", deal.Status,
		"qty_kg", deal.QuantityKg.String(),
		"total_cost", deal.TotalCost.String(),
	)
	metrics.DealsRecorded.WithLabelValues(deal.Kind, deal.Status).Inc()

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        event,
			DealID:      deal.ID,
			Kind:        deal.Kind,
			WarehouseID: deal.SourceWarehouseID,
			ProductType: deal.ProductType,
			QuantityKg:  deal.QuantityKg.String(),
		})
	}
}

// parseDate accepts both RFC 3339 timestamps and bare calendar days.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
