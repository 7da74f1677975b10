// Package volume tracks cumulative draw against capped supply and sale
// contracts so a deal cannot overdraw the volume a price record covers.
//
// All quantities use shopspring/decimal — never float64.
package volume

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Status messages surfaced on the deal forms.
const (
	MsgUnlimited = "объём по договору не ограничен"
	MsgRemaining = "остаток по договору: %s кг"
	MsgOverdrawn = "превышен объём договора: остаток %s кг"
)

// Result is the remaining-capacity verdict for one contract side.
// Overdraw is a computed value, not an error: the caller decides whether
// it blocks submission (final deals) or is informational (drafts).
type Result struct {
	RemainingKg decimal.Decimal `json:"remaining_kg"`
	Unlimited   bool            `json:"unlimited"`
	OK          bool            `json:"ok"`
	Message     string          `json:"message"`
}

// Remaining computes the capacity left on a capped contract.
//
// usedKg is supplied by the external aggregator and — by explicit contract
// with it — already includes the edited deal's stored quantity when a deal
// is being edited. That is why the pending quantity is subtracted only when
// creating: subtracting it while editing would count the deal twice. The
// asymmetry is intentional and load-bearing.
//
// A cap of zero or less means the contract is uncapped.
func Remaining(totalCapKg, usedKg, pendingKg decimal.Decimal, editing bool) Result {
	if totalCapKg.LessThanOrEqual(decimal.Zero) {
		return Result{
			RemainingKg: decimal.Zero,
			Unlimited:   true,
			OK:          true,
			Message:     MsgUnlimited,
		}
	}

	remaining := totalCapKg.Sub(usedKg)
	if !editing {
		remaining = remaining.Sub(pendingKg)
	}

	if remaining.IsNegative() {
		return Result{
			RemainingKg: remaining,
			OK:          false,
			Message:     fmt.Sprintf(MsgOverdrawn, remaining),
		}
	}
	return Result{
		RemainingKg: remaining,
		OK:          true,
		Message:     fmt.Sprintf(MsgRemaining, remaining),
	}
}
