package changes

import (
	"testing"
	"time"

	"regnxt-workbook-be/pkg/sheet"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func numberCell(cellID, rowNr, colNr int, text string) sheet.Cell {
	return sheet.Coerce(sheet.RawCell{CellID: cellID, SheetID: 7, RowNr: rowNr, ColNr: colNr, Type: sheet.CellNumber, Text: text})
}

func edit(rowID sheet.RowID, before sheet.Cell, text string) Edit {
	after := before.WithText(text)
	return Edit{
		RowID:       rowID,
		Before:      before,
		After:       after,
		OriginalRow: sheet.Row{RowID: rowID, Cells: []sheet.Cell{before}},
		UpdatedRow:  sheet.Row{RowID: rowID, Cells: []sheet.Cell{after}},
	}
}

func TestRecordEditMergesByRow(t *testing.T) {
	acc := NewAccumulator().WithClock(fixedClock(time.Unix(0, 0)))

	c := numberCell(5, 1, 1, "1")
	require.True(t, acc.RecordEdit(edit("row1", c, "2")))
	require.True(t, acc.RecordEdit(edit("row1", c.WithText("2"), "3")))

	assert.Equal(t, 1, acc.Len())
	row, ok := acc.Row(RowKey{SheetID: 7, RowID: "row1"})
	require.True(t, ok)
	require.Len(t, row.ChangedCells, 2)
	assert.Equal(t, "2", row.ChangedCells[0].NewValue)
	assert.Equal(t, "3", row.ChangedCells[1].NewValue)

	// original snapshot comes from the first edit, updated from the last
	assert.Equal(t, "1", row.OriginalRow.Cells[0].Text)
	assert.Equal(t, "3", row.UpdatedRow.Cells[0].Text)
	assert.Equal(t, time.Unix(2, 0), row.Timestamp)
	assert.Equal(t, 2, acc.CellCount())
}

func TestRecordEditSkipsNoopAndLocked(t *testing.T) {
	acc := NewAccumulator()

	c := numberCell(5, 1, 1, "1")
	assert.False(t, acc.RecordEdit(edit("row1", c, "1")))

	locked := c
	locked.NonEditable = true
	assert.False(t, acc.RecordEdit(edit("row1", locked, "9")))

	assert.False(t, acc.Dirty())
	assert.Nil(t, acc.LastChange())
}

func TestMissingPreviousValueIsNullLiteral(t *testing.T) {
	acc := NewAccumulator()
	empty := sheet.Cell{CellID: 3, SheetID: 7, RowNr: 2, ColNr: 1, Type: sheet.CellNumber}
	require.True(t, acc.RecordEdit(edit("row2", empty, "5")))

	row, _ := acc.Row(RowKey{SheetID: 7, RowID: "row2"})
	assert.Equal(t, "null", row.ChangedCells[0].PrevValue)
	assert.Equal(t, "5", row.ChangedCells[0].NewValue)
}

func TestChangedCellCarriesContext(t *testing.T) {
	before := numberCell(9, 4, 2, "1")
	cc := NewChangedCell(before, before.WithText("2"), EditContext{ColumnLabel: "C0020", Comment: "restated"})
	assert.Equal(t, ChangedCell{
		SheetID: 7, CellID: 9, RowNr: 4, ColNr: 2,
		PrevValue: "1", NewValue: "2",
		Comment: "restated", CellCode: "C0020",
	}, cc)
}

func TestClear(t *testing.T) {
	acc := NewAccumulator()
	acc.RecordEdit(edit("row1", numberCell(1, 1, 1, "1"), "2"))
	require.True(t, acc.Dirty())
	require.NotNil(t, acc.LastChange())

	acc.Clear()
	assert.False(t, acc.Dirty())
	assert.Empty(t, acc.Rows())
	assert.Nil(t, acc.LastChange())
	assert.Empty(t, acc.Flatten())
}

func TestFlattenFirstSeenWins(t *testing.T) {
	rows := []ChangedRow{{
		RowID: "row1",
		ChangedCells: []ChangedCell{
			{CellID: 5, RowNr: 1, ColNr: 1, NewValue: "2"},
			{CellID: 5, RowNr: 1, ColNr: 1, NewValue: "3"},
		},
	}}

	got := FlattenRows(rows)
	want := []ChangedCell{{CellID: 5, RowNr: 1, ColNr: 1, NewValue: "2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FlattenRows mismatch (-want +got):\n%s", diff)
	}
}

func TestFlattenOrderIsIndependentOfRowOrder(t *testing.T) {
	build := func(order []sheet.RowID) []ChangedCell {
		acc := NewAccumulator()
		cells := map[sheet.RowID][]sheet.Cell{
			"r3": {numberCell(31, 3, 2, "a"), numberCell(30, 3, 1, "b")},
			"r1": {numberCell(12, 1, 2, "c")},
			"r2": {numberCell(21, 2, 1, "d")},
		}
		for _, id := range order {
			for _, c := range cells[id] {
				acc.RecordEdit(edit(id, c, c.Text+"!"))
			}
		}
		return acc.Flatten()
	}

	first := build([]sheet.RowID{"r3", "r1", "r2"})
	second := build([]sheet.RowID{"r2", "r3", "r1"})

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("flatten depends on insertion order (-first +second):\n%s", diff)
	}

	var positions [][2]int
	for _, c := range first {
		positions = append(positions, [2]int{c.RowNr, c.ColNr})
	}
	assert.Equal(t, [][2]int{{1, 2}, {2, 1}, {3, 1}, {3, 2}}, positions)
}

func TestFlattenKeepsUnpersistedCellsApart(t *testing.T) {
	acc := NewAccumulator()
	acc.RecordEdit(edit("r1", sheet.Cell{SheetID: 7, RowNr: 1, ColNr: 1, Type: sheet.CellNumber}, "1"))
	acc.RecordEdit(edit("r1", sheet.Cell{SheetID: 7, RowNr: 1, ColNr: 2, Type: sheet.CellNumber}, "2"))

	got := acc.Flatten()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].CellID)
	assert.Equal(t, 0, got[1].CellID)
}

func TestRowsAreCopies(t *testing.T) {
	acc := NewAccumulator()
	acc.RecordEdit(edit("r1", numberCell(1, 1, 1, "1"), "2"))

	rows := acc.Rows()
	rows[0].ChangedCells[0].NewValue = "mutated"

	row, _ := acc.Row(RowKey{SheetID: 7, RowID: "r1"})
	assert.Equal(t, "2", row.ChangedCells[0].NewValue)
}

func TestSameRowIDOnDifferentSheetsStaysApart(t *testing.T) {
	acc := NewAccumulator()
	onFour := sheet.Cell{CellID: 41, SheetID: 4, RowNr: 1, ColNr: 1, Type: sheet.CellNumber, Text: "1"}
	onSeven := sheet.Cell{CellID: 71, SheetID: 7, RowNr: 1, ColNr: 1, Type: sheet.CellNumber, Text: "5"}

	require.True(t, acc.RecordEdit(edit("1", onFour, "2")))
	require.True(t, acc.RecordEdit(edit("1", onSeven, "6")))

	rows := acc.Rows()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, r.SheetID, r.OriginalRow.Cells[0].SheetID)
		assert.Equal(t, r.SheetID, r.UpdatedRow.Cells[0].SheetID)
	}

	four, ok := acc.Row(RowKey{SheetID: 4, RowID: "1"})
	require.True(t, ok)
	assert.Equal(t, "1", four.OriginalRow.Cells[0].Text)
	assert.Equal(t, "2", four.UpdatedRow.Cells[0].Text)

	seven, ok := acc.Row(RowKey{SheetID: 7, RowID: "1"})
	require.True(t, ok)
	assert.Equal(t, "5", seven.OriginalRow.Cells[0].Text)
	assert.Equal(t, "6", seven.UpdatedRow.Cells[0].Text)
}

func TestFlattenBreaksPositionTiesBySheet(t *testing.T) {
	onFour := sheet.Cell{CellID: 41, SheetID: 4, RowNr: 1, ColNr: 1, Type: sheet.CellNumber, Text: "1"}
	onSeven := sheet.Cell{CellID: 71, SheetID: 7, RowNr: 1, ColNr: 1, Type: sheet.CellNumber, Text: "1"}

	build := func(cells ...sheet.Cell) []ChangedCell {
		acc := NewAccumulator()
		for _, c := range cells {
			acc.RecordEdit(edit("1", c, "2"))
		}
		return acc.Flatten()
	}

	first := build(onFour, onSeven)
	second := build(onSeven, onFour)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("flatten depends on edit order (-first +second):\n%s", diff)
	}
	require.Len(t, first, 2)
	assert.Equal(t, 4, first[0].SheetID)
	assert.Equal(t, 7, first[1].SheetID)
}
