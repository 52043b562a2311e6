// Package document provides contract document splitting: raw uploads are
// decomposed into a fixed bag of named sections plus a parsed specification
// table. The section bag is the wire contract consumed by every analysis
// participant downstream.
package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NumParts is the number of named sections in a bag (part_0..part_16).
const NumParts = 17

// SpecificationIndex is the part index reserved for the specification table.
const SpecificationIndex = 16

// PartName returns the canonical section name for an index (e.g. "part_3").
func PartName(i int) string {
	return fmt.Sprintf("part_%d", i)
}

// PartIndex parses a canonical section name back to its index.
// Returns -1 if the name is not a valid section name.
func PartIndex(name string) int {
	var i int
	if _, err := fmt.Sscanf(name, "part_%d", &i); err != nil {
		return -1
	}
	if i < 0 || i >= NumParts || name != PartName(i) {
		return -1
	}
	return i
}

// SectionNames returns all section names in reading order.
func SectionNames() []string {
	names := make([]string, NumParts)
	for i := range names {
		names[i] = PartName(i)
	}
	return names
}

// LineItem is one row of a parsed specification table.
type LineItem struct {
	Name    string  `json:"name"`
	Qty     float64 `json:"qty"`
	Unit    string  `json:"unit"`
	Price   float64 `json:"price"`
	Amount  float64 `json:"amount"`
	Country string  `json:"country"`
}

// Specification holds the parsed line items of a contract's commodity table.
// Parsing is heuristic: a low-confidence parse sets Warning instead of failing.
type Specification struct {
	Items   []LineItem `json:"items"`
	Total   float64    `json:"total"`
	VAT     float64    `json:"vat"`
	Warning string     `json:"warning,omitempty"`
}

// SectionBag is the structured decomposition of one contract document.
// All NumParts section names are always present; a missing section is an
// empty string, never an absent key. A bag is immutable once handed to the
// dispatcher; Subset and Clone return fresh copies.
type SectionBag struct {
	parts         [NumParts]string
	Specification Specification
}

// NewSectionBag returns an empty bag with all sections present.
func NewSectionBag() *SectionBag {
	return &SectionBag{Specification: Specification{Items: []LineItem{}}}
}

// Part returns the text of the section at index i.
func (b *SectionBag) Part(i int) string {
	if i < 0 || i >= NumParts {
		return ""
	}
	return b.parts[i]
}

// PartByName returns the text of the named section and whether the name is valid.
func (b *SectionBag) PartByName(name string) (string, bool) {
	i := PartIndex(name)
	if i < 0 {
		return "", false
	}
	return b.parts[i], true
}

// SetPart sets the text of the section at index i. Out-of-range indices are ignored.
func (b *SectionBag) SetPart(i int, text string) {
	if i >= 0 && i < NumParts {
		b.parts[i] = text
	}
}

// AppendPart appends text to the section at index i, separating runs with a
// blank line the way split sections are joined on the wire.
func (b *SectionBag) AppendPart(i int, text string) {
	if i < 0 || i >= NumParts {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.parts[i] == "" {
		b.parts[i] = text
		return
	}
	b.parts[i] += "\n\n" + text
}

// Body reconstructs the document body from the non-specification sections in
// reading order. Sections are joined with a blank line; the specification
// section (part_16) is excluded.
func (b *SectionBag) Body() string {
	var parts []string
	for i := 0; i < SpecificationIndex; i++ {
		if b.parts[i] != "" {
			parts = append(parts, b.parts[i])
		}
	}
	return strings.Join(parts, "\n\n")
}

// Empty reports whether every section, including the specification, is blank.
func (b *SectionBag) Empty() bool {
	for i := 0; i < NumParts; i++ {
		if strings.TrimSpace(b.parts[i]) != "" {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the bag.
func (b *SectionBag) Clone() *SectionBag {
	out := &SectionBag{parts: b.parts, Specification: b.Specification}
	out.Specification.Items = append([]LineItem(nil), b.Specification.Items...)
	return out
}

// Subset returns a new bag containing only the sections whose names match one
// of the given doublestar patterns (e.g. "part_1", "part_1[0-6]", "part_*").
// An empty pattern list selects the full bag. The specification struct is
// carried whenever part_16 is selected.
func (b *SectionBag) Subset(patterns []string) *SectionBag {
	if len(patterns) == 0 {
		return b.Clone()
	}
	out := NewSectionBag()
	for i := 0; i < NumParts; i++ {
		name := PartName(i)
		for _, pat := range patterns {
			if ok, err := doublestar.Match(pat, name); err == nil && ok {
				out.parts[i] = b.parts[i]
				if i == SpecificationIndex {
					out.Specification = b.Specification
					out.Specification.Items = append([]LineItem(nil), b.Specification.Items...)
				}
				break
			}
		}
	}
	return out
}

// MarshalJSON emits the fixed wire shape with every part key present.
func (b *SectionBag) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, NumParts+1)
	for i := 0; i < NumParts; i++ {
		m[PartName(i)] = b.parts[i]
	}
	m["specification"] = b.Specification
	return json.Marshal(m)
}

// UnmarshalJSON accepts the wire shape; absent or null parts become empty strings.
func (b *SectionBag) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshal section bag: %w", err)
	}
	for i := 0; i < NumParts; i++ {
		raw, ok := m[PartName(i)]
		if !ok || string(raw) == "null" {
			b.parts[i] = ""
			continue
		}
		if err := json.Unmarshal(raw, &b.parts[i]); err != nil {
			return fmt.Errorf("unmarshal %s: %w", PartName(i), err)
		}
	}
	if raw, ok := m["specification"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &b.Specification); err != nil {
			return fmt.Errorf("unmarshal specification: %w", err)
		}
	}
	return nil
}
