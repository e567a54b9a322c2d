package transform

import (
	"fmt"
	"slices"
	"strings"

	"budget-etl/internal/domain"
)

// Mapping assigns canonical fields to column positions for one sheet.
type Mapping struct {
	fields   map[string]int
	Unmapped []string // headers that matched no alias
	Warnings []string
}

// Column returns the column position mapped to field.
func (m *Mapping) Column(field string) (int, bool) {
	i, ok := m.fields[field]
	return i, ok
}

// Fields returns the mapped canonical fields in schema order.
func (m *Mapping) Fields() []string {
	out := make([]string, 0, len(m.fields))
	for _, f := range domain.CanonicalFields {
		if _, ok := m.fields[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ColumnMapper matches headers against a synonym table.
type ColumnMapper struct {
	aliases map[string]string // normalized alias -> canonical field
}

// NewColumnMapper builds a mapper from canonical field -> aliases. The
// canonical field name itself always matches. An alias claimed by two
// fields is a configuration error.
func NewColumnMapper(synonyms map[string][]string) (*ColumnMapper, error) {
	m := &ColumnMapper{aliases: make(map[string]string)}
	add := func(field, alias string) error {
		key := NormalizeHeader(alias)
		if key == "" {
			return nil
		}
		if prev, ok := m.aliases[key]; ok && prev != field {
			return domain.ErrValidation("alias %q is configured for both %s and %s", alias, prev, field)
		}
		m.aliases[key] = field
		return nil
	}

	fields := make([]string, 0, len(synonyms))
	for field := range synonyms {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	for _, field := range fields {
		if !domain.IsCanonicalField(field) {
			return nil, domain.ErrValidation("unknown canonical field %q in column synonyms", field)
		}
		for _, alias := range synonyms[field] {
			if err := add(field, alias); err != nil {
				return nil, err
			}
		}
	}
	for _, field := range domain.CanonicalFields {
		if err := add(field, field); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Map resolves header against the synonym table. Unmatched columns are
// ignored. A required field with no match fails with RequiredColumnMissing;
// one matched by several columns fails with AmbiguousColumnMapping. An
// ambiguous optional field is left unmapped with a warning.
func (c *ColumnMapper) Map(sheet string, header []string) (*Mapping, error) {
	matches := make(map[string][]int)
	m := &Mapping{fields: make(map[string]int)}

	for i, h := range header {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		field, ok := c.aliases[key]
		if !ok {
			m.Unmapped = append(m.Unmapped, h)
			continue
		}
		matches[field] = append(matches[field], i)
	}

	var missing []string
	for _, field := range domain.RequiredFields {
		switch cols := matches[field]; len(cols) {
		case 0:
			missing = append(missing, field)
		case 1:
		default:
			return nil, domain.SheetError(domain.KindAmbiguousColumnMapping, sheet,
				"columns %s all match %s", quoteColumns(header, cols), field)
		}
	}
	if len(missing) > 0 {
		return nil, domain.SheetError(domain.KindRequiredColumnMissing, sheet,
			"no column matches %s (header: %s)", strings.Join(missing, ", "), quoteAll(header))
	}

	for _, field := range domain.CanonicalFields {
		cols := matches[field]
		switch {
		case len(cols) == 1:
			m.fields[field] = cols[0]
		case len(cols) > 1:
			m.Warnings = append(m.Warnings, fmt.Sprintf("columns %s all match %s; field left unmapped",
				quoteColumns(header, cols), field))
		}
	}
	return m, nil
}

func quoteColumns(header []string, cols []int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = fmt.Sprintf("%q", header[c])
	}
	return strings.Join(names, ", ")
}

func quoteAll(header []string) string {
	names := make([]string, 0, len(header))
	for _, h := range header {
		if h != "" {
			names = append(names, fmt.Sprintf("%q", h))
		}
	}
	return strings.Join(names, ", ")
}
