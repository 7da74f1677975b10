package pricing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

// Selection is an explicit user choice of one unit price within a record.
// It is the API-boundary type; the single-string composite form exists only
// for the persisted format (see FormatSelectionID / ParseSelectionID).
type Selection struct {
	PriceID    string `json:"price_id"`
	ValueIndex int    `json:"value_index"`
}

// Resolved is one concrete unit price, always traceable to the
// (priceId, valueIndex) pair it was decoded from — even when callers later
// persist only the numeric value.
type Resolved struct {
	UnitPrice  decimal.Decimal `json:"unit_price"`
	PriceID    string          `json:"price_id"`
	ValueIndex int             `json:"value_index"`
}

// Resolve picks one concrete unit price from a catalog result.
//
// With a selection, the record with the selected id is used at the selected
// value index; a selection pointing at a record not present in records falls
// back to the default. Without a selection the default is records[0] at
// index 0.
//
// Returns nil when records is empty, the value index is out of range, or
// the stored value fails to decode. Decode failures are deliberately
// swallowed — "fail soft, surface as missing price" — so a single bad
// historical entry cannot block unrelated lookups.
func Resolve(records []model.PriceRecord, sel *Selection) *Resolved {
	if len(records) == 0 {
		return nil
	}

	rec := &records[0]
	idx := 0
	if sel != nil {
		for i := range records {
			if records[i].ID == sel.PriceID {
				rec = &records[i]
				idx = sel.ValueIndex
				break
			}
		}
	}

	if idx < 0 || idx >= len(rec.PriceValues) {
		return nil
	}

	var entry struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal([]byte(rec.PriceValues[idx]), &entry); err != nil {
		return nil
	}

	return &Resolved{
		UnitPrice:  entry.Price,
		PriceID:    rec.ID,
		ValueIndex: idx,
	}
}

// FormatSelectionID encodes a selection as "<priceId>-<valueIndex>" for the
// persisted single-string format.
func FormatSelectionID(priceID string, valueIndex int) string {
	return fmt.Sprintf("%s-%d", priceID, valueIndex)
}

// ParseSelectionID decodes the persisted composite form. The price id is a
// UUID and itself contains hyphens, so the value index is the last
// hyphen-delimited segment — but only when the segment count indicates a
// UUID-shaped id with an appended index (6 or more segments). Anything
// shorter is treated as a bare id at index 0, which tolerates ids stored
// without an embedded index.
func ParseSelectionID(s string) Selection {
	parts := strings.Split(s, "-")
	if len(parts) >= 6 {
		last := parts[len(parts)-1]
		if idx, err := strconv.Atoi(last); err == nil && idx >= 0 {
			return Selection{
				PriceID:    strings.Join(parts[:len(parts)-1], "-"),
				ValueIndex: idx,
			}
		}
	}
	return Selection{PriceID: s, ValueIndex: 0}
}
