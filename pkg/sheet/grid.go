package sheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RowID is the row key the grid renders with. The backend sends it either as a
// string or as a number; both decode to the same textual form.
type RowID string

func (r *RowID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("row id must be a string or number: %w", err)
	}
	*r = RowID(n.String())
	return nil
}

type RawRow struct {
	RowID RowID     `json:"rowId"`
	Cells []RawCell `json:"cells"`
}

type Row struct {
	RowID RowID  `json:"rowId"`
	Cells []Cell `json:"cells"`
}

// Clone returns a deep copy; row snapshots must not alias the live grid.
func (r Row) Clone() Row {
	cells := make([]Cell, len(r.Cells))
	for i, c := range r.Cells {
		if c.Value != nil {
			v := *c.Value
			c.Value = &v
		}
		cells[i] = c
	}
	return Row{RowID: r.RowID, Cells: cells}
}

// CellIndex returns the position of the cell at colNr, or -1.
func (r Row) CellIndex(colNr int) int {
	for i, c := range r.Cells {
		if c.ColNr == colNr {
			return i
		}
	}
	// Cells without explicit coordinates are positional (1-based).
	if colNr >= 1 && colNr <= len(r.Cells) && r.Cells[colNr-1].ColNr == 0 {
		return colNr - 1
	}
	return -1
}

type Column struct {
	ColumnID string `json:"columnId"`
	Label    string `json:"label,omitempty"`
	Width    int    `json:"width,omitempty"`
}

// RawGrid is the body of GET /RI/Workbook/SheetData.
type RawGrid struct {
	HeaderRows []RawRow `json:"headerRows"`
	ValueRows  []RawRow `json:"valueRows"`
	Columns    []Column `json:"columns"`
}

type Grid struct {
	HeaderRows []Row    `json:"headerRows"`
	ValueRows  []Row    `json:"valueRows"`
	Columns    []Column `json:"columns"`
}

// Decode coerces every raw cell of a server grid into display cells.
func Decode(raw RawGrid) *Grid {
	return &Grid{
		HeaderRows: decodeRows(raw.HeaderRows),
		ValueRows:  decodeRows(raw.ValueRows),
		Columns:    append([]Column(nil), raw.Columns...),
	}
}

func decodeRows(raw []RawRow) []Row {
	rows := make([]Row, 0, len(raw))
	for _, rr := range raw {
		row := Row{RowID: rr.RowID, Cells: make([]Cell, len(rr.Cells))}
		for i, rc := range rr.Cells {
			row.Cells[i] = Coerce(rc)
		}
		rows = append(rows, row)
	}
	return rows
}

func (g *Grid) Empty() bool {
	return g == nil || (len(g.HeaderRows) == 0 && len(g.ValueRows) == 0)
}

// FindRow looks up an editable value row by id.
func (g *Grid) FindRow(id RowID) (int, bool) {
	if g == nil {
		return -1, false
	}
	for i, r := range g.ValueRows {
		if r.RowID == id {
			return i, true
		}
	}
	return -1, false
}

// ColumnLabel resolves the display label of a 1-based column number. Columns
// without a label fall back to their id, then to the number itself.
func (g *Grid) ColumnLabel(colNr int) string {
	if g == nil || colNr < 1 || colNr > len(g.Columns) {
		return strconv.Itoa(colNr)
	}
	col := g.Columns[colNr-1]
	if col.Label != "" {
		return col.Label
	}
	if col.ColumnID != "" {
		return col.ColumnID
	}
	return strconv.Itoa(colNr)
}

// Clone deep-copies the grid for read-only views.
func (g *Grid) Clone() *Grid {
	if g == nil {
		return nil
	}
	out := &Grid{
		HeaderRows: make([]Row, len(g.HeaderRows)),
		ValueRows:  make([]Row, len(g.ValueRows)),
		Columns:    append([]Column(nil), g.Columns...),
	}
	for i, r := range g.HeaderRows {
		out.HeaderRows[i] = r.Clone()
	}
	for i, r := range g.ValueRows {
		out.ValueRows[i] = r.Clone()
	}
	return out
}
