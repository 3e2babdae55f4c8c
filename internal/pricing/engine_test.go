package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeLine(t *testing.T) {
	cases := []struct {
		name    string
		line    Line
		wantHT  string
		wantTTC string
	}{
		{
			name:    "discount and vat",
			line:    Line{Quantite: dec("2"), PrixUnitaire: dec("100.00"), RemisePct: dec("10"), TauxTVA: dec("20")},
			wantHT:  "180.00",
			wantTTC: "216.00",
		},
		{
			name:    "zero quantity",
			line:    Line{Quantite: dec("0"), PrixUnitaire: dec("99.99"), RemisePct: dec("0"), TauxTVA: dec("20")},
			wantHT:  "0.00",
			wantTTC: "0.00",
		},
		{
			name:    "no discount no vat",
			line:    Line{Quantite: dec("3"), PrixUnitaire: dec("12.34"), RemisePct: dec("0"), TauxTVA: dec("0")},
			wantHT:  "37.02",
			wantTTC: "37.02",
		},
		{
			name:    "full discount",
			line:    Line{Quantite: dec("5"), PrixUnitaire: dec("40"), RemisePct: dec("100"), TauxTVA: dec("20")},
			wantHT:  "0.00",
			wantTTC: "0.00",
		},
		{
			name:    "rounding half up",
			line:    Line{Quantite: dec("1"), PrixUnitaire: dec("10.005"), RemisePct: dec("0"), TauxTVA: dec("0")},
			wantHT:  "10.01",
			wantTTC: "10.01",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeLine(tc.line)
			require.NoError(t, err)
			require.Equal(t, tc.wantHT, got.HT.StringFixed(2))
			require.Equal(t, tc.wantTTC, got.TTC.StringFixed(2))
		})
	}
}

func TestComputeLineIdempotent(t *testing.T) {
	line := Line{Quantite: dec("7"), PrixUnitaire: dec("13.37"), RemisePct: dec("5"), TauxTVA: dec("5.5")}
	first, err := ComputeLine(line)
	require.NoError(t, err)
	second, err := ComputeLine(line)
	require.NoError(t, err)
	require.True(t, first.HT.Equal(second.HT))
	require.True(t, first.TTC.Equal(second.TTC))
}

func TestComputeLineValidation(t *testing.T) {
	cases := []struct {
		name string
		line Line
	}{
		{"negative quantity", Line{Quantite: dec("-1"), PrixUnitaire: dec("10"), RemisePct: dec("0"), TauxTVA: dec("20")}},
		{"negative price", Line{Quantite: dec("1"), PrixUnitaire: dec("-10"), RemisePct: dec("0"), TauxTVA: dec("20")}},
		{"discount above 100", Line{Quantite: dec("1"), PrixUnitaire: dec("10"), RemisePct: dec("101"), TauxTVA: dec("20")}},
		{"negative discount", Line{Quantite: dec("1"), PrixUnitaire: dec("10"), RemisePct: dec("-1"), TauxTVA: dec("20")}},
		{"negative vat", Line{Quantite: dec("1"), PrixUnitaire: dec("10"), RemisePct: dec("0"), TauxTVA: dec("-20")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeLine(tc.line)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestAggregate(t *testing.T) {
	a, err := ComputeLine(Line{Quantite: dec("1"), PrixUnitaire: dec("50"), RemisePct: dec("0"), TauxTVA: dec("20")})
	require.NoError(t, err)
	b, err := ComputeLine(Line{Quantite: dec("1"), PrixUnitaire: dec("50"), RemisePct: dec("0"), TauxTVA: dec("20")})
	require.NoError(t, err)

	totals := Aggregate([]LineTotals{a, b})
	require.Equal(t, "100.00", totals.HT.StringFixed(2))
	require.Equal(t, "20.00", totals.TVA.StringFixed(2))
	require.Equal(t, "120.00", totals.TTC.StringFixed(2))
}

func TestAggregateEmpty(t *testing.T) {
	totals := Aggregate(nil)
	require.Equal(t, "0.00", totals.HT.StringFixed(2))
	require.Equal(t, "0.00", totals.TVA.StringFixed(2))
	require.Equal(t, "0.00", totals.TTC.StringFixed(2))
}

func TestSubtotalUpTo(t *testing.T) {
	lines := []PositionedTotals{
		{Position: 0, Totals: LineTotals{HT: dec("10.00"), TTC: dec("12.00")}},
		{Position: 1, Totals: LineTotals{HT: dec("20.00"), TTC: dec("24.00")}},
		{Position: 3, Totals: LineTotals{HT: dec("40.00"), TTC: dec("48.00")}},
	}

	sub := SubtotalUpTo(lines, 1)
	require.Equal(t, "30.00", sub.HT.StringFixed(2))
	require.Equal(t, "36.00", sub.TTC.StringFixed(2))

	all := SubtotalUpTo(lines, 10)
	require.Equal(t, "70.00", all.HT.StringFixed(2))

	none := SubtotalUpTo(lines, -1)
	require.Equal(t, "0.00", none.HT.StringFixed(2))
}

func TestFormatEUR(t *testing.T) {
	require.Equal(t, "1 234,56 €", FormatEUR(dec("1234.56")))
	require.Equal(t, "0,00 €", FormatEUR(dec("0")))
	require.Equal(t, "-12,30 €", FormatEUR(dec("-12.3")))
	require.Equal(t, "1 000 000,00 €", FormatEUR(dec("1000000")))
}
