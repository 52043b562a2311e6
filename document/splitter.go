package document

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// clauseRe matches numbered clause headings such as "3. Delivery" or "7) Payment".
	clauseRe = regexp.MustCompile(`^\s*(\d{1,3})[.)]\s+(.*)$`)

	// tableRowRe matches markdown table rows with at least two cells.
	tableRowRe = regexp.MustCompile(`^\s*\|(.+\|)+\s*$`)

	// tableRuleRe matches markdown table separator rows like "|---|:---:|".
	tableRuleRe = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
)

// tableLinePrefix marks a normalized specification table row inside the
// specification section. Rows carry pipe-separated cells after the prefix.
const tableLinePrefix = "TABLE:"

// Split carves a document body into a SectionBag. Numbered clauses 1 through
// 15 open the corresponding parts, text before the first clause goes to
// part_0, and table rows collect into the specification section. No input
// text is dropped: clause numbers outside the range stay with the current
// section, and Body round-trips everything outside the table.
func Split(body string) (*SectionBag, error) {
	if !utf8.ValidString(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrParseFailure)
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyDocument
	}

	var sections [NumParts][]string
	current := 0
	var tableRows []string

	for _, line := range strings.Split(body, "\n") {
		if row, ok := specTableRow(line); ok {
			if row != "" {
				tableRows = append(tableRows, row)
			}
			continue
		}

		if m := clauseRe.FindStringSubmatch(line); m != nil {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n >= 1 && n < SpecificationIndex {
				current = n
				sections[current] = append(sections[current], strings.TrimSpace(line))
				continue
			}
			// Clause numbers past the schema stay with the current section.
		}

		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			continue
		}
		sections[current] = append(sections[current], trimmed)
	}

	bag := NewSectionBag()
	for i, lines := range sections {
		if len(lines) > 0 {
			bag.SetPart(i, strings.Join(lines, "\n"))
		}
	}

	if len(tableRows) > 0 {
		bag.SetPart(SpecificationIndex, strings.Join(tableRows, "\n"))
		bag.Specification = ParseSpecification(bag.Part(SpecificationIndex))
	}

	if bag.Empty() {
		return nil, ErrEmptyDocument
	}

	return bag, nil
}

// specTableRow normalizes a table line into a "TABLE:" row. It accepts both
// pre-normalized rows and markdown pipe tables; separator rows and header
// rows without digits are dropped.
func specTableRow(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, tableLinePrefix) {
		return trimmed, true
	}

	if !tableRowRe.MatchString(trimmed) {
		return "", false
	}
	if tableRuleRe.MatchString(trimmed) {
		return "", true
	}

	cells := splitTableCells(trimmed)
	if len(cells) < 2 {
		return "", false
	}
	if !strings.ContainsAny(strings.Join(cells, ""), "0123456789") {
		// Header row
		return "", true
	}

	return tableLinePrefix + " " + strings.Join(cells, " | "), true
}

// splitTableCells splits a markdown table row into trimmed cell values.
func splitTableCells(row string) []string {
	row = strings.Trim(strings.TrimSpace(row), "|")
	parts := strings.Split(row, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}
