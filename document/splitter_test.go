package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_NumberedClauses(t *testing.T) {
	body := `Supply Contract No. 42

Between Acme Ltd and Widgets Inc.

1. Subject of the Contract
The seller delivers goods per the specification.

2. Price and Payment
Payment within 30 days of invoice.

15. Final Provisions
Signed in two copies.`

	bag, err := Split(body)
	require.NoError(t, err)

	assert.Contains(t, bag.Part(0), "Supply Contract No. 42")
	assert.Contains(t, bag.Part(0), "Acme Ltd")
	assert.Contains(t, bag.Part(1), "1. Subject of the Contract")
	assert.Contains(t, bag.Part(1), "seller delivers goods")
	assert.Contains(t, bag.Part(2), "Payment within 30 days")
	assert.Contains(t, bag.Part(15), "Signed in two copies")
	assert.Empty(t, bag.Part(3))
}

func TestSplit_OutOfRangeClauseStaysInSection(t *testing.T) {
	body := `2. Delivery
Delivery terms follow.
22. This is a cross-reference, not a new clause.
More delivery text.`

	bag, err := Split(body)
	require.NoError(t, err)

	assert.Contains(t, bag.Part(2), "22. This is a cross-reference")
	assert.Contains(t, bag.Part(2), "More delivery text")
}

func TestSplit_TableRowsGoToSpecification(t *testing.T) {
	body := `1. Subject
Goods per the table below.

| Name | Qty | Unit | Price | Amount | Country |
|------|-----|------|-------|--------|---------|
| Bolt M8 | 100 | pcs | 2,50 | 250,00 | DE |
| Nut M8 | 100 | pcs | 1,50 | 150,00 | DE |

2. Price
Total per specification.`

	bag, err := Split(body)
	require.NoError(t, err)

	spec := bag.Part(SpecificationIndex)
	assert.Contains(t, spec, "TABLE: Bolt M8 | 100 | pcs | 2,50 | 250,00 | DE")
	assert.Contains(t, spec, "TABLE: Nut M8")
	assert.NotContains(t, spec, "----")
	assert.NotContains(t, spec, "Name | Qty")

	require.Len(t, bag.Specification.Items, 2)
	assert.Equal(t, "Bolt M8", bag.Specification.Items[0].Name)
	assert.InDelta(t, 400.0, bag.Specification.Total, 0.001)
}

func TestSplit_UnreadableTableCellStillSplits(t *testing.T) {
	body := `1. Subject
Goods per the table below.

TABLE: Pump P-100 | N/A | pcs | 1500.00 | 3000.00 | DE`

	bag, err := Split(body)
	require.NoError(t, err)

	require.Len(t, bag.Specification.Items, 1)
	assert.Zero(t, bag.Specification.Items[0].Qty)
	assert.InDelta(t, 3000.0, bag.Specification.Total, 0.001)
	assert.Contains(t, bag.Specification.Warning, "unreadable qty")
}

func TestSplit_BodyRoundTripExcludesTable(t *testing.T) {
	body := `Preamble text.

1. Subject
Clause one text.

| Bolt | 10 | pcs | 1,00 | 10,00 |

3. Liability
Clause three text.`

	bag, err := Split(body)
	require.NoError(t, err)

	round := bag.Body()
	assert.Contains(t, round, "Preamble text.")
	assert.Contains(t, round, "Clause one text.")
	assert.Contains(t, round, "Clause three text.")
	assert.NotContains(t, round, "Bolt")
}

func TestSplit_EmptyDocument(t *testing.T) {
	for _, body := range []string{"", "   \n\t\n  "} {
		_, err := Split(body)
		assert.ErrorIs(t, err, ErrEmptyDocument)
	}
}

func TestSplit_InvalidUTF8(t *testing.T) {
	_, err := Split("1. Subject\n" + string([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestSplit_NoTextLost(t *testing.T) {
	lines := []string{
		"Opening recitals.",
		"1. First",
		"alpha",
		"2. Second",
		"beta",
		"99. stray numbered line",
		"gamma",
	}
	bag, err := Split(strings.Join(lines, "\n"))
	require.NoError(t, err)

	joined := bag.Body()
	for _, line := range lines {
		assert.Contains(t, joined, line)
	}
}
