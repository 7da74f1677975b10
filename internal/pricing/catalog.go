// Package pricing resolves which negotiated price applies to a deal:
// catalog lookup over date-bounded price records, selection of one concrete
// unit price by (priceId, valueIndex), and the composite-id codec used at
// the serialization edge.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"context"

	"github.com/fuelex/deal-engine/internal/model"
)

// PriceSource is the read-only price store collaborator. The store may
// pre-filter on indexed columns; the catalog re-applies the full predicate
// so results are identical regardless of how coarse the source filter is.
type PriceSource interface {
	FindPrices(ctx context.Context, f model.PriceFilter) ([]model.PriceRecord, error)
}

// Catalog answers "which price records are valid for this form state".
// Pure read; no caching beyond what the source provides.
type Catalog struct {
	src PriceSource
}

// NewCatalog creates a catalog over the given price source.
func NewCatalog(src PriceSource) *Catalog {
	return &Catalog{src: src}
}

// Lookup returns the price records applicable to the filter, in source
// order. Matching requires counterparty, role, kind, product type, basis
// (by id when the filter carries one, by name otherwise), an active record,
// and dateFrom <= date <= dateTo inclusive.
//
// An empty result is not an error: callers surface "no price" as a
// user-facing warning, not a fault.
func (c *Catalog) Lookup(ctx context.Context, f model.PriceFilter) ([]model.PriceRecord, error) {
	records, err := c.src.FindPrices(ctx, f)
	if err != nil {
		return nil, err
	}

	matched := make([]model.PriceRecord, 0, len(records))
	for _, r := range records {
		if !Matches(r, f) {
			continue
		}
		matched = append(matched, r)
	}
	return matched, nil
}

// Matches applies the full catalog predicate to one record.
func Matches(r model.PriceRecord, f model.PriceFilter) bool {
	if r.CounterpartyID != f.CounterpartyID {
		return false
	}
	if r.Role != f.Role || r.Kind != f.Kind {
		return false
	}
	if r.ProductType != f.ProductType {
		return false
	}
	if f.BasisID != "" {
		if r.BasisID != f.BasisID {
			return false
		}
	} else if r.Basis != f.Basis {
		return false
	}
	return r.AppliesOn(f.Date)
}
