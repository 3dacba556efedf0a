// Package changes keeps the per-row cell diffs of an open sheet until they are saved.
package changes

import (
	"time"

	"regnxt-workbook-be/pkg/sheet"
)

// NullValue is sent as prevvalue when the edited cell had no text.
const NullValue = "null"

// ChangedCell is one recorded edit, in the shape the RI backend expects.
type ChangedCell struct {
	SheetID   int    `json:"sheetid"`
	CellID    int    `json:"cellid"`
	RowNr     int    `json:"rowNr"`
	ColNr     int    `json:"colNr"`
	PrevValue string `json:"prevvalue"`
	NewValue  string `json:"newvalue"`
	Comment   string `json:"comment,omitempty"`
	CellCode  string `json:"cellcode,omitempty"`
}

func (c ChangedCell) Key() sheet.CellKey {
	return sheet.KeyOf(c.CellID, c.SheetID, c.RowNr, c.ColNr)
}

// RowKey identifies a grid row across sheets. Row ids are only unique within
// one sheet.
type RowKey struct {
	SheetID int
	RowID   sheet.RowID
}

// ChangedRow is the diff envelope of one grid row.
type ChangedRow struct {
	SheetID      int           `json:"sheetId"`
	RowID        sheet.RowID   `json:"rowId"`
	OriginalRow  sheet.Row     `json:"originalRow"`
	UpdatedRow   sheet.Row     `json:"updatedRow"`
	ChangedCells []ChangedCell `json:"changedCells"`
	Timestamp    time.Time     `json:"timestamp"`
}

// EditContext carries what the grid knows about the edited position.
type EditContext struct {
	ColumnLabel string
	Comment     string
}

// Edit is a single committed cell edit. SheetID falls back to the sheet of
// the edited cell when zero.
type Edit struct {
	SheetID     int
	RowID       sheet.RowID
	Before      sheet.Cell
	After       sheet.Cell
	OriginalRow sheet.Row
	UpdatedRow  sheet.Row
	Context     EditContext
}

// Accumulator stores ChangedRows keyed by sheet and row id. It is not safe for
// concurrent use; the owning session serialises access.
type Accumulator struct {
	rows       map[RowKey]*ChangedRow
	order      []RowKey
	lastChange *time.Time
	now        func() time.Time
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		rows: make(map[RowKey]*ChangedRow),
		now:  time.Now,
	}
}

// WithClock replaces the timestamp source.
func (a *Accumulator) WithClock(now func() time.Time) *Accumulator {
	a.now = now
	return a
}

// NewChangedCell builds the diff record for an edit.
func NewChangedCell(before, after sheet.Cell, ctx EditContext) ChangedCell {
	prev := before.Text
	if prev == "" {
		prev = NullValue
	}
	return ChangedCell{
		SheetID:   before.SheetID,
		CellID:    before.CellID,
		RowNr:     before.RowNr,
		ColNr:     before.ColNr,
		PrevValue: prev,
		NewValue:  after.Text,
		Comment:   ctx.Comment,
		CellCode:  ctx.ColumnLabel,
	}
}

// RecordEdit merges an edit into the accumulator. Edits to non-editable cells and
// edits that leave the text unchanged are dropped and report false.
func (a *Accumulator) RecordEdit(e Edit) bool {
	if e.Before.NonEditable || e.Before.Text == e.After.Text {
		return false
	}

	cell := NewChangedCell(e.Before, e.After, e.Context)
	now := a.now()
	key := e.Key()

	if existing, ok := a.rows[key]; ok {
		// Entries for the same cell are kept; Flatten resolves them.
		existing.ChangedCells = append(existing.ChangedCells, cell)
		existing.UpdatedRow = e.UpdatedRow.Clone()
		existing.Timestamp = now
	} else {
		a.rows[key] = &ChangedRow{
			SheetID:      key.SheetID,
			RowID:        e.RowID,
			OriginalRow:  e.OriginalRow.Clone(),
			UpdatedRow:   e.UpdatedRow.Clone(),
			ChangedCells: []ChangedCell{cell},
			Timestamp:    now,
		}
		a.order = append(a.order, key)
	}

	a.lastChange = &now
	return true
}

// Key is the row the edit belongs to.
func (e Edit) Key() RowKey {
	sheetID := e.SheetID
	if sheetID == 0 {
		sheetID = e.Before.SheetID
	}
	return RowKey{SheetID: sheetID, RowID: e.RowID}
}

func (a *Accumulator) Clear() {
	a.rows = make(map[RowKey]*ChangedRow)
	a.order = nil
	a.lastChange = nil
}

// Dirty reports whether anything is waiting to be saved.
func (a *Accumulator) Dirty() bool {
	return len(a.order) > 0
}

func (a *Accumulator) Len() int {
	return len(a.order)
}

// CellCount is the number of recorded ChangedCell entries, duplicates included.
func (a *Accumulator) CellCount() int {
	n := 0
	for _, r := range a.rows {
		n += len(r.ChangedCells)
	}
	return n
}

func (a *Accumulator) LastChange() *time.Time {
	if a.lastChange == nil {
		return nil
	}
	t := *a.lastChange
	return &t
}

// Row returns a copy of the ChangedRow for key.
func (a *Accumulator) Row(key RowKey) (ChangedRow, bool) {
	r, ok := a.rows[key]
	if !ok {
		return ChangedRow{}, false
	}
	return copyRow(r), true
}

// Rows returns copies of every ChangedRow in first-edit order.
func (a *Accumulator) Rows() []ChangedRow {
	out := make([]ChangedRow, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, copyRow(a.rows[key]))
	}
	return out
}

func copyRow(r *ChangedRow) ChangedRow {
	return ChangedRow{
		SheetID:      r.SheetID,
		RowID:        r.RowID,
		OriginalRow:  r.OriginalRow.Clone(),
		UpdatedRow:   r.UpdatedRow.Clone(),
		ChangedCells: append([]ChangedCell(nil), r.ChangedCells...),
		Timestamp:    r.Timestamp,
	}
}
