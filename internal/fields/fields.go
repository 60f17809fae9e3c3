// Package fields maps logical webhook field names to anchor cells of the
// project setup worksheet.
package fields

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// DefaultSheet is the worksheet every mapped cell lives on.
const DefaultSheet = "Project Setup Form"

// Cell is a single addressable cell. For merged regions it is the anchor
// (top-left) cell, which is the only one holding a value.
type Cell struct {
	Column int
	Row    int
}

// ParseCell parses an A1-style reference such as "D29".
func ParseCell(ref string) (Cell, error) {
	col, row, err := excelize.CellNameToCoordinates(strings.ToUpper(strings.TrimSpace(ref)))
	if err != nil {
		return Cell{}, fmt.Errorf("invalid cell reference %q: %w", ref, err)
	}
	return Cell{Column: col, Row: row}, nil
}

// String returns the A1-style reference.
func (c Cell) String() string {
	name, err := excelize.CoordinatesToCellName(c.Column, c.Row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", c.Row, c.Column)
	}
	return name
}

// Match is a recognised field carrying a non-empty value.
type Match struct {
	Field string
	Cell  Cell
	Value string
}

// Mapping is the process-wide field table. It is built once and only read
// afterwards, so a single value can be shared by concurrent runs.
type Mapping struct {
	sheet  string
	cells  map[string]Cell
	fields []string
}

// New builds a mapping from field name to A1 reference.
func New(sheet string, refs map[string]string) (Mapping, error) {
	if strings.TrimSpace(sheet) == "" {
		return Mapping{}, fmt.Errorf("sheet name must be provided")
	}
	if len(refs) == 0 {
		return Mapping{}, fmt.Errorf("at least one field must be mapped")
	}

	m := Mapping{
		sheet: sheet,
		cells: make(map[string]Cell, len(refs)),
	}
	for field, ref := range refs {
		if strings.TrimSpace(field) == "" {
			return Mapping{}, fmt.Errorf("empty field name mapped to %q", ref)
		}
		cell, err := ParseCell(ref)
		if err != nil {
			return Mapping{}, fmt.Errorf("field %q: %w", field, err)
		}
		m.cells[field] = cell
		m.fields = append(m.fields, field)
	}
	sort.Strings(m.fields)
	return m, nil
}

// Default returns the built-in project setup table.
func Default() Mapping {
	m, err := New(DefaultSheet, map[string]string{
		"projectName":   "D29", // D29:G29
		"projectNumber": "D8",  // D8:F8
		"branch":        "D6",  // D6:G6
	})
	if err != nil {
		panic(err)
	}
	return m
}

type fileFormat struct {
	Sheet string            `yaml:"sheet"`
	Cells map[string]string `yaml:"cells"`
}

// Load reads a YAML field table:
//
//	sheet: Project Setup Form
//	cells:
//	  projectName: D29
//	  branch: D6
func Load(path string) (Mapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("failed to read field map %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Mapping{}, fmt.Errorf("failed to parse field map %s: %w", path, err)
	}
	if f.Sheet == "" {
		f.Sheet = DefaultSheet
	}
	return New(f.Sheet, f.Cells)
}

// Sheet is the name of the worksheet holding the mapped cells.
func (m Mapping) Sheet() string {
	return m.sheet
}

// Fields returns the mapped field names in sorted order.
func (m Mapping) Fields() []string {
	return append([]string(nil), m.fields...)
}

// Resolve returns the anchor cell for a field.
func (m Mapping) Resolve(field string) (Cell, bool) {
	c, ok := m.cells[field]
	return c, ok
}

// Match returns every mapped field with a non-empty value, ordered by field
// name. Unknown keys are ignored.
func (m Mapping) Match(values map[string]string) []Match {
	var matches []Match
	for _, field := range m.fields {
		v, ok := values[field]
		if !ok || v == "" {
			continue
		}
		matches = append(matches, Match{Field: field, Cell: m.cells[field], Value: v})
	}
	return matches
}
