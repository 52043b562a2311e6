package document

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultVATRate is assumed when the table does not state a VAT rate.
const DefaultVATRate = 20

// ParseSpecification parses the normalized "TABLE:" rows of a specification
// section into line items with computed totals. Rows are pipe-separated as
// name | qty | unit | price | amount | country; trailing cells may be
// omitted. Summary rows (totals, VAT) adjust the aggregate instead of
// producing items.
//
// Scanned tables carry noise, so parsing is lenient: unreadable numeric
// cells degrade to zero and are reported through Warning rather than
// failing the whole document.
func ParseSpecification(section string) Specification {
	spec := Specification{VAT: DefaultVATRate}
	if strings.TrimSpace(section) == "" {
		return spec
	}

	var statedTotal float64
	var totalStated bool
	var notes []string

	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		cells := splitTableCells(strings.TrimPrefix(trimmed, tableLinePrefix))
		if len(cells) == 0 || cells[0] == "" {
			continue
		}

		if rate, ok := vatRow(cells); ok {
			spec.VAT = rate
			continue
		}
		if total, ok := totalRow(cells); ok {
			statedTotal = total
			totalStated = true
			continue
		}

		item, itemNotes := parseLineItem(cells)
		notes = append(notes, itemNotes...)
		spec.Items = append(spec.Items, item)
		spec.Total += item.Amount
	}

	spec.Total = roundMoney(spec.Total)
	if totalStated && math.Abs(spec.Total-statedTotal) > 0.01 {
		notes = append(notes, fmt.Sprintf("stated total %.2f does not match computed total %.2f",
			statedTotal, spec.Total))
	}
	spec.Warning = strings.Join(notes, "; ")

	return spec
}

// parseLineItem builds a line item from row cells in schema order. A missing
// amount is derived from quantity and price. Numeric cells that cannot be
// read are zero-filled and reported as notes.
func parseLineItem(cells []string) (LineItem, []string) {
	item := LineItem{Name: cells[0]}
	var notes []string

	var err error
	if len(cells) > 1 && cells[1] != "" {
		if item.Qty, err = parseNumber(cells[1]); err != nil {
			notes = append(notes, fmt.Sprintf("row %q: unreadable qty %q", item.Name, cells[1]))
		}
	}
	if len(cells) > 2 {
		item.Unit = cells[2]
	}
	if len(cells) > 3 && cells[3] != "" {
		if item.Price, err = parseNumber(cells[3]); err != nil {
			notes = append(notes, fmt.Sprintf("row %q: unreadable price %q", item.Name, cells[3]))
		}
	}
	if len(cells) > 4 && cells[4] != "" {
		if item.Amount, err = parseNumber(cells[4]); err != nil {
			notes = append(notes, fmt.Sprintf("row %q: unreadable amount %q", item.Name, cells[4]))
		}
	}
	if len(cells) > 5 {
		item.Country = cells[5]
	}

	if item.Amount == 0 && item.Qty != 0 && item.Price != 0 {
		item.Amount = roundMoney(item.Qty * item.Price)
	}

	return item, notes
}

// vatRow recognizes VAT summary rows and returns the stated rate.
func vatRow(cells []string) (float64, bool) {
	name := strings.ToLower(cells[0])
	if !strings.Contains(name, "vat") && !strings.Contains(name, "ндс") {
		return 0, false
	}
	for _, c := range cells[1:] {
		v, err := parseNumber(strings.TrimSuffix(c, "%"))
		if err == nil {
			return v, true
		}
	}
	return DefaultVATRate, true
}

// totalRow recognizes total summary rows and returns the stated total.
func totalRow(cells []string) (float64, bool) {
	name := strings.ToLower(cells[0])
	switch {
	case strings.Contains(name, "total"), strings.Contains(name, "итог"),
		strings.Contains(name, "всего"):
	default:
		return 0, false
	}
	for i := len(cells) - 1; i >= 1; i-- {
		v, err := parseNumber(cells[i])
		if err == nil {
			return v, true
		}
	}
	return 0, true
}

// parseNumber parses numbers as they appear in scanned contract tables:
// spaces as thousand separators, comma or dot as the decimal mark, currency
// symbols and other stray glyphs dropped.
func parseNumber(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == ',':
			return '.'
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(s))

	if !strings.ContainsAny(cleaned, "0123456789") {
		return 0, fmt.Errorf("no digits in %q", s)
	}

	// "1.234.56" style from comma thousand separators: keep the last dot.
	if strings.Count(cleaned, ".") > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	return strconv.ParseFloat(cleaned, 64)
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
