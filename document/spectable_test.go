package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecification_Basic(t *testing.T) {
	section := `TABLE: Bolt M8 | 100 | pcs | 2,50 | 250,00 | DE
TABLE: Nut M8 | 200 | pcs | 1,25 | 250,00 | CN`

	spec := ParseSpecification(section)

	require.Len(t, spec.Items, 2)
	assert.Equal(t, LineItem{
		Name: "Bolt M8", Qty: 100, Unit: "pcs", Price: 2.5, Amount: 250, Country: "DE",
	}, spec.Items[0])
	assert.InDelta(t, 500.0, spec.Total, 0.001)
	assert.InDelta(t, float64(DefaultVATRate), spec.VAT, 0.001)
	assert.Empty(t, spec.Warning)
}

func TestParseSpecification_NumberFormats(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"comma decimal", "12,50", 12.5},
		{"nbsp thousands", "1 200,00", 1200},
		{"space thousands", "10 000,50", 10000.5},
		{"plain dot", "99.99", 99.99},
		{"narrow nbsp", "5 000", 5000},
		{"dollar prefix", "$1,500.00", 1500},
		{"euro suffix", "2 300,00 €", 2300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestParseSpecification_DerivedAmount(t *testing.T) {
	spec := ParseSpecification("TABLE: Widget | 4 | pcs | 2,25")
	require.Len(t, spec.Items, 1)
	assert.InDelta(t, 9.0, spec.Items[0].Amount, 0.001)
}

func TestParseSpecification_VATRow(t *testing.T) {
	spec := ParseSpecification(`TABLE: Widget | 1 | pcs | 100,00 | 100,00
TABLE: VAT | 10%`)
	assert.InDelta(t, 10.0, spec.VAT, 0.001)
	assert.Len(t, spec.Items, 1)
}

func TestParseSpecification_TotalMismatchWarning(t *testing.T) {
	spec := ParseSpecification(`TABLE: Widget | 1 | pcs | 100,00 | 100,00
TABLE: Total | | | | 120,00`)
	assert.InDelta(t, 100.0, spec.Total, 0.001)
	assert.Contains(t, spec.Warning, "does not match")
}

func TestParseSpecification_TotalMatchNoWarning(t *testing.T) {
	spec := ParseSpecification(`TABLE: Widget | 2 | pcs | 50,00 | 100,00
TABLE: Итого | | | | 100,00`)
	assert.Empty(t, spec.Warning)
}

func TestParseSpecification_UnreadableCellsWarnNotFail(t *testing.T) {
	spec := ParseSpecification(`TABLE: Pump P-100 | N/A | pcs | 1500.00 | 3000.00 | DE
TABLE: Valve V-20 | 2 | pcs | 400,00 | 800,00 | IT`)

	require.Len(t, spec.Items, 2)
	pump := spec.Items[0]
	assert.Zero(t, pump.Qty)
	assert.InDelta(t, 1500.0, pump.Price, 0.001)
	assert.InDelta(t, 3000.0, pump.Amount, 0.001)
	assert.InDelta(t, 3800.0, spec.Total, 0.001)
	assert.Contains(t, spec.Warning, "unreadable qty")
	assert.Contains(t, spec.Warning, "Pump P-100")
}

func TestParseSpecification_AllCellsUnreadable(t *testing.T) {
	spec := ParseSpecification("TABLE: Widget | abc | pcs | n/a | tbd")
	require.Len(t, spec.Items, 1)
	assert.Zero(t, spec.Items[0].Amount)
	assert.Contains(t, spec.Warning, "unreadable qty")
	assert.Contains(t, spec.Warning, "unreadable price")
	assert.Contains(t, spec.Warning, "unreadable amount")
}

func TestParseSpecification_Empty(t *testing.T) {
	spec := ParseSpecification("")
	assert.Empty(t, spec.Items)
	assert.Zero(t, spec.Total)
}
