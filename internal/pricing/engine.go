// Package pricing holds the pure calculation rules for devis lignes and
// header totals. All arithmetic runs on shopspring decimals and rounds
// half-up to 2 places; floats never enter a money path.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a line whose fields fall outside the accepted ranges.
var ErrInvalidInput = errors.New("pricing: invalid input")

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Line is the priced subset of a devis ligne.
type Line struct {
	Quantite     decimal.Decimal
	PrixUnitaire decimal.Decimal
	RemisePct    decimal.Decimal
	TauxTVA      decimal.Decimal
}

// LineTotals carries the two derived amounts of one product line.
type LineTotals struct {
	HT  decimal.Decimal
	TTC decimal.Decimal
}

// Totals aggregates line totals at the devis header level.
type Totals struct {
	HT  decimal.Decimal
	TVA decimal.Decimal
	TTC decimal.Decimal
}

// Validate rejects quantities and prices below zero and discounts outside
// [0,100]. VAT below zero is rejected too; there is no upper bound since
// rates above 100% exist in some regimes.
func (l Line) Validate() error {
	if l.Quantite.IsNegative() {
		return fmt.Errorf("%w: quantite must not be negative", ErrInvalidInput)
	}
	if l.PrixUnitaire.IsNegative() {
		return fmt.Errorf("%w: prix unitaire must not be negative", ErrInvalidInput)
	}
	if l.RemisePct.IsNegative() || l.RemisePct.GreaterThan(hundred) {
		return fmt.Errorf("%w: remise must be between 0 and 100", ErrInvalidInput)
	}
	if l.TauxTVA.IsNegative() {
		return fmt.Errorf("%w: taux tva must not be negative", ErrInvalidInput)
	}
	return nil
}

// ComputeLine derives HT and TTC for one product line:
//
//	HT  = quantite x prix unitaire x (1 - remise/100)
//	TTC = HT x (1 + tva/100)
//
// Both results are rounded half-up to 2 decimal places. A zero quantity
// yields 0.00 for both amounts.
func ComputeLine(l Line) (LineTotals, error) {
	if err := l.Validate(); err != nil {
		return LineTotals{}, err
	}
	ht := l.Quantite.
		Mul(l.PrixUnitaire).
		Mul(one.Sub(l.RemisePct.Div(hundred))).
		Round(2)
	ttc := ht.Mul(one.Add(l.TauxTVA.Div(hundred))).Round(2)
	return LineTotals{HT: ht, TTC: ttc}, nil
}

// Aggregate sums per-line totals into header totals. TVA is derived as
// TTC - HT so the three figures always reconcile exactly.
func Aggregate(lines []LineTotals) Totals {
	t := Totals{HT: decimal.Zero, TVA: decimal.Zero, TTC: decimal.Zero}
	for _, l := range lines {
		t.HT = t.HT.Add(l.HT)
		t.TTC = t.TTC.Add(l.TTC)
	}
	t.TVA = t.TTC.Sub(t.HT)
	return t
}

// PositionedTotals pairs a line's position with its computed totals, for
// running subtotal queries.
type PositionedTotals struct {
	Position int32
	Totals   LineTotals
}

// SubtotalUpTo sums product-line totals at positions less than or equal to
// the given position.
func SubtotalUpTo(lines []PositionedTotals, position int32) LineTotals {
	sub := LineTotals{HT: decimal.Zero, TTC: decimal.Zero}
	for _, l := range lines {
		if l.Position <= position {
			sub.HT = sub.HT.Add(l.Totals.HT)
			sub.TTC = sub.TTC.Add(l.Totals.TTC)
		}
	}
	return sub
}

// FormatEUR renders an amount the way the devis UI shows subtotals,
// e.g. "1 234,56 €". Thousands grouping follows French typography.
func FormatEUR(d decimal.Decimal) string {
	fixed := d.StringFixed(2)
	neg := false
	if len(fixed) > 0 && fixed[0] == '-' {
		neg = true
		fixed = fixed[1:]
	}
	intPart := fixed[:len(fixed)-3]
	fracPart := fixed[len(fixed)-2:]

	var grouped []byte
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped = append(grouped, ' ')
		}
		grouped = append(grouped, intPart[i])
	}
	out := string(grouped) + "," + fracPart + " €"
	if neg {
		out = "-" + out
	}
	return out
}
