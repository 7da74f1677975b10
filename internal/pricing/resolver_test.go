package pricing

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fuelex/deal-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func tieredRecord(id string, prices ...string) model.PriceRecord {
	values := make([]string, len(prices))
	for i, p := range prices {
		values[i] = fmt.Sprintf(`{"price": %s}`, p)
	}
	return model.PriceRecord{ID: id, IsActive: true, PriceValues: values}
}

// --- Resolve ---

func TestResolve_DefaultIsFirstRecordFirstValue(t *testing.T) {
	records := []model.PriceRecord{
		tieredRecord("aaaaaaaa-bbbb-cccc-dddd-000000000001", "58.5", "60"),
		tieredRecord("aaaaaaaa-bbbb-cccc-dddd-000000000002", "70"),
	}

	got := Resolve(records, nil)
	if got == nil {
		t.Fatal("expected a resolved price")
	}
	if !got.UnitPrice.Equal(d(58.5)) {
		t.Errorf("expected default price 58.5, got %s", got.UnitPrice)
	}
	if got.PriceID != records[0].ID || got.ValueIndex != 0 {
		t.Errorf("default must be (records[0], 0), got (%s, %d)", got.PriceID, got.ValueIndex)
	}
}

func TestResolve_EmptyRecords(t *testing.T) {
	if got := Resolve(nil, nil); got != nil {
		t.Errorf("expected nil for empty records, got %+v", got)
	}
}

func TestResolve_ExplicitSelection(t *testing.T) {
	records := []model.PriceRecord{
		tieredRecord("aaaaaaaa-bbbb-cccc-dddd-000000000001", "58.5"),
		tieredRecord("aaaaaaaa-bbbb-cccc-dddd-000000000002", "70", "72.25"),
	}

	sel := &Selection{PriceID: records[1].ID, ValueIndex: 1}
	got := Resolve(records, sel)
	if got == nil {
		t.Fatal("expected a resolved price")
	}
	if !got.UnitPrice.Equal(d(72.25)) {
		t.Errorf("expected 72.25, got %s", got.UnitPrice)
	}
	if got.PriceID != records[1].ID || got.ValueIndex != 1 {
		t.Errorf("resolved pair mismatch: (%s, %d)", got.PriceID, got.ValueIndex)
	}
}

func TestResolve_UnknownSelectionFallsBackToDefault(t *testing.T) {
	records := []model.PriceRecord{tieredRecord("aaaaaaaa-bbbb-cccc-dddd-000000000001", "58.5")}

	sel := &Selection{PriceID: "aaaaaaaa-bbbb-cccc-dddd-00000000dead", ValueIndex: 0}
	got := Resolve(records, sel)
	if got == nil {
		t.Fatal("stale selection should fall back to default, got nil")
	}
	if got.PriceID != records[0].ID {
		t.Errorf("expected fallback to records[0], got %s", got.PriceID)
	}
}

func TestResolve_IndexOutOfRange(t *testing.T) {
	records := []model.PriceRecord{tieredRecord("aaaaaaaa-bbbb-cccc-dddd-000000000001", "58.5")}

	sel := &Selection{PriceID: records[0].ID, ValueIndex: 3}
	if got := Resolve(records, sel); got != nil {
		t.Errorf("out-of-range index must resolve to nil, got %+v", got)
	}
}

func TestResolve_MalformedValueSwallowedToNil(t *testing.T) {
	rec := model.PriceRecord{
		ID:          "aaaaaaaa-bbbb-cccc-dddd-000000000001",
		IsActive:    true,
		PriceValues: []string{`{"price": 58.5,`}, // truncated stored JSON
	}

	if got := Resolve([]model.PriceRecord{rec}, nil); got != nil {
		t.Errorf("decode failure must resolve to nil, not error: %+v", got)
	}
}

func TestResolve_StringPriceValue(t *testing.T) {
	// NUMERIC columns round-trip through JSON as strings; both forms decode.
	rec := model.PriceRecord{
		ID:          "aaaaaaaa-bbbb-cccc-dddd-000000000001",
		IsActive:    true,
		PriceValues: []string{`{"price": "61.4"}`},
	}

	got := Resolve([]model.PriceRecord{rec}, nil)
	if got == nil || !got.UnitPrice.Equal(d(61.4)) {
		t.Fatalf("expected 61.4, got %+v", got)
	}
}

// --- Composite id codec ---

func TestSelectionID_RoundTrip(t *testing.T) {
	u := "aaaaaaaa-bbbb-cccc-dddd-000000000001"
	for idx := 0; idx <= 2; idx++ {
		got := ParseSelectionID(FormatSelectionID(u, idx))
		if got.PriceID != u || got.ValueIndex != idx {
			t.Errorf("round trip (%s, %d) -> (%s, %d)", u, idx, got.PriceID, got.ValueIndex)
		}
	}
}

func TestParseSelectionID_BareUUID(t *testing.T) {
	// A UUID without an appended index has exactly 5 segments.
	u := "aaaaaaaa-bbbb-cccc-dddd-000000000001"
	got := ParseSelectionID(u)
	if got.PriceID != u || got.ValueIndex != 0 {
		t.Errorf("bare uuid should parse as (id, 0), got (%s, %d)", got.PriceID, got.ValueIndex)
	}
}

func TestParseSelectionID_ShortID(t *testing.T) {
	// Non-UUID ids with hyphens stay whole.
	got := ParseSelectionID("legacy-7")
	if got.PriceID != "legacy-7" || got.ValueIndex != 0 {
		t.Errorf("short id should stay whole, got (%s, %d)", got.PriceID, got.ValueIndex)
	}
}

func TestParseSelectionID_NonNumericTail(t *testing.T) {
	// 6 segments but a non-numeric tail: treat as a bare id.
	s := "aaaaaaaa-bbbb-cccc-dddd-000000000001-extra"
	got := ParseSelectionID(s)
	if got.PriceID != s || got.ValueIndex != 0 {
		t.Errorf("non-numeric tail should not split, got (%s, %d)", got.PriceID, got.ValueIndex)
	}
}
