package sheet

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// CellType discriminates how a cell is displayed and whether it carries a numeric value.
type CellType string

const (
	CellHeader CellType = "header"
	CellNumber CellType = "number"
	CellEmpty  CellType = "empty"
)

// RawCell is a cell exactly as the RI backend sends it.
type RawCell struct {
	CellID      int      `json:"cellId"`
	SheetID     int      `json:"sheetId"`
	RowNr       int      `json:"rowNr"`
	ColNr       int      `json:"colNr"`
	Text        string   `json:"text"`
	Value       *float64 `json:"value,omitempty"`
	Type        CellType `json:"type"`
	NonEditable bool     `json:"nonEditable"`
	Invalid     bool     `json:"invalid,omitempty"`
}

// Cell is the display cell held in a session grid.
type Cell struct {
	CellID      int      `json:"cellId"`
	SheetID     int      `json:"sheetId"`
	RowNr       int      `json:"rowNr"`
	ColNr       int      `json:"colNr"`
	Text        string   `json:"text"`
	Value       *float64 `json:"value,omitempty"`
	Type        CellType `json:"type"`
	NonEditable bool     `json:"nonEditable"`
	Invalid     bool     `json:"invalid,omitempty"`
}

// CellKey identifies a cell for diff and merge purposes.
type CellKey struct {
	CellID  int
	SheetID int
	RowNr   int
	ColNr   int
}

// KeyOf builds the identity of a cell: the cell id when the cell is persisted,
// otherwise its grid position.
func KeyOf(cellID, sheetID, rowNr, colNr int) CellKey {
	if cellID != 0 {
		return CellKey{CellID: cellID}
	}
	return CellKey{SheetID: sheetID, RowNr: rowNr, ColNr: colNr}
}

func (k CellKey) String() string {
	if k.CellID != 0 {
		return fmt.Sprintf("cell:%d", k.CellID)
	}
	return fmt.Sprintf("pos:%d/%d/%d", k.SheetID, k.RowNr, k.ColNr)
}

func (c Cell) Key() CellKey {
	return KeyOf(c.CellID, c.SheetID, c.RowNr, c.ColNr)
}

// Coerce turns a raw server cell into a display cell. Number cells get a numeric
// value when their text parses; text that does not parse is kept as-is with no value.
func Coerce(raw RawCell) Cell {
	c := Cell{
		CellID:      raw.CellID,
		SheetID:     raw.SheetID,
		RowNr:       raw.RowNr,
		ColNr:       raw.ColNr,
		Text:        html.UnescapeString(raw.Text),
		Type:        raw.Type,
		NonEditable: raw.NonEditable,
		Invalid:     raw.Invalid,
	}
	if c.Type == "" {
		c.Type = CellEmpty
	}
	if c.Type == CellNumber {
		c.Value = numericValue(raw.Value, c.Text)
	}
	return c
}

// WithText returns a copy of c carrying new text, with the numeric value
// recomputed for number cells.
func (c Cell) WithText(text string) Cell {
	c.Text = text
	c.Value = nil
	if c.Type == CellNumber {
		c.Value = numericValue(nil, text)
	}
	return c
}

func numericValue(v *float64, text string) *float64 {
	if v != nil {
		n := *v
		return &n
	}
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &n
}
