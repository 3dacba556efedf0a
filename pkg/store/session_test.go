package store

import (
	"errors"
	"testing"

	"regnxt-workbook-be/pkg/changes"
	"regnxt-workbook-be/pkg/sheet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoByThree builds a 2x3 value grid: row 1 holds 10/11/12, row 2 is empty.
func twoByThree() *sheet.Grid {
	raw := sheet.RawGrid{
		Columns: []sheet.Column{{ColumnID: "c1", Label: "0010"}, {ColumnID: "c2", Label: "0020"}, {ColumnID: "c3", Label: "0030"}},
		ValueRows: []sheet.RawRow{
			{RowID: "1", Cells: []sheet.RawCell{
				{CellID: 11, SheetID: 4, RowNr: 1, ColNr: 1, Type: sheet.CellNumber, Text: "10"},
				{CellID: 12, SheetID: 4, RowNr: 1, ColNr: 2, Type: sheet.CellNumber, Text: "10"},
				{CellID: 13, SheetID: 4, RowNr: 1, ColNr: 3, Type: sheet.CellHeader, Text: "Total", NonEditable: true},
			}},
			{RowID: "2", Cells: []sheet.RawCell{
				{CellID: 21, SheetID: 4, RowNr: 2, ColNr: 1, Type: sheet.CellNumber},
				{CellID: 22, SheetID: 4, RowNr: 2, ColNr: 2, Type: sheet.CellNumber},
				{CellID: 23, SheetID: 4, RowNr: 2, ColNr: 3, Type: sheet.CellNumber},
			}},
		},
	}
	return sheet.Decode(raw)
}

func loadedSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession("s1", 100, "u1")
	s.SelectSheet(SelectedSheet{Label: "F 01.01", Table: "t_f0101", SheetID: 4})
	seq := s.BeginLoad(FetchSheet)
	require.NoError(t, s.CompleteSheetLoad(seq, twoByThree()))
	return s
}

func TestLoadStateMachine(t *testing.T) {
	s := NewSession("s1", 100, "u1")
	st, _ := s.Status()
	assert.Equal(t, StatusIdle, st)

	seq := s.BeginLoad(FetchSheet)
	st, _ = s.Status()
	assert.Equal(t, StatusLoading, st)

	require.NoError(t, s.CompleteSheetLoad(seq, twoByThree()))
	st, msg := s.Status()
	assert.Equal(t, StatusLoaded, st)
	assert.Empty(t, msg)

	seq = s.BeginLoad(FetchSheet)
	require.NoError(t, s.FailLoad(FetchSheet, seq, errors.New("No data received")))
	st, msg = s.Status()
	assert.Equal(t, StatusError, st)
	assert.Equal(t, "No data received", msg)

	// the last good grid survives a failed reload
	view := s.Snapshot(true)
	require.NotNil(t, view.Data)
	assert.Len(t, view.Data.ValueRows, 2)
}

func TestStaleResponseIsDropped(t *testing.T) {
	s := NewSession("s1", 100, "u1")

	older := s.BeginLoad(FetchSheet)
	newer := s.BeginLoad(FetchSheet)

	fresh := twoByThree()
	require.NoError(t, s.CompleteSheetLoad(newer, fresh))

	stale := &sheet.Grid{ValueRows: []sheet.Row{{RowID: "old"}}}
	assert.ErrorIs(t, s.CompleteSheetLoad(older, stale), ErrStaleResponse)
	assert.ErrorIs(t, s.FailLoad(FetchSheet, older, errors.New("boom")), ErrStaleResponse)

	view := s.Snapshot(true)
	assert.Equal(t, StatusLoaded, view.Status)
	assert.Equal(t, sheet.RowID("1"), view.Data.ValueRows[0].RowID)
}

func TestFetchKindsAreIndependent(t *testing.T) {
	s := NewSession("s1", 100, "u1")
	sheetSeq := s.BeginLoad(FetchSheet)
	tablesSeq := s.BeginLoad(FetchTables)

	cells, invalid := 12, 2
	require.NoError(t, s.CompleteTablesLoad(tablesSeq, []sheet.TableNode{{Key: "t", CellCount: &cells, InvalidCount: &invalid}}))
	require.NoError(t, s.CompleteSheetLoad(sheetSeq, twoByThree()))

	view := s.Snapshot(false)
	assert.Equal(t, sheet.TotalCounts{TotalCellCount: 12, TotalInvalidCount: 2}, view.TotalCounts)
	assert.Nil(t, view.Data)
}

func TestApplyEditScenario(t *testing.T) {
	s := loadedSession(t)

	_, recorded, err := s.ApplyEdit(EditRequest{RowID: "1", ColNr: 2, Text: "20"})
	require.NoError(t, err)
	require.True(t, recorded)

	row, recorded, err := s.ApplyEdit(EditRequest{RowID: "2", ColNr: 1, Text: "5"})
	require.NoError(t, err)
	require.True(t, recorded)
	assert.Equal(t, "", row.OriginalRow.Cells[0].Text)
	assert.Equal(t, "5", row.UpdatedRow.Cells[0].Text)

	got := s.Flatten()
	require.Len(t, got, 2)
	assert.Equal(t, changes.ChangedCell{SheetID: 4, CellID: 12, RowNr: 1, ColNr: 2, PrevValue: "10", NewValue: "20", CellCode: "0020"}, got[0])
	assert.Equal(t, changes.ChangedCell{SheetID: 4, CellID: 21, RowNr: 2, ColNr: 1, PrevValue: "null", NewValue: "5", CellCode: "0010"}, got[1])

	// the live grid reflects the edit
	view := s.Snapshot(true)
	assert.Equal(t, "20", view.Data.ValueRows[0].Cells[1].Text)
	assert.True(t, view.Dirty)
	assert.Equal(t, 2, view.ChangedRowCount)
	assert.NotNil(t, view.LastChangeTimestamp)

	cells, err := s.BeginSave()
	require.NoError(t, err)
	assert.Len(t, cells, 2)
	s.FinishSave(nil)

	assert.False(t, s.Dirty())
	assert.Empty(t, s.ChangedRows())
}

func TestApplyEditErrors(t *testing.T) {
	empty := NewSession("s0", 1, "u")
	_, _, err := empty.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "x"})
	assert.ErrorIs(t, err, ErrNoData)

	s := loadedSession(t)
	tests := []struct {
		name string
		req  EditRequest
		want error
	}{
		{"unknown row", EditRequest{RowID: "9", ColNr: 1, Text: "1"}, ErrRowNotFound},
		{"unknown column", EditRequest{RowID: "1", ColNr: 8, Text: "1"}, ErrCellNotFound},
		{"locked cell", EditRequest{RowID: "1", ColNr: 3, Text: "1"}, ErrCellNotEditable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.ApplyEdit(tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, recorded, err := s.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "10"})
	require.NoError(t, err)
	assert.False(t, recorded)
}

func TestSaveClearsOnSuccessOnly(t *testing.T) {
	s := loadedSession(t)
	_, err := s.BeginSave()
	assert.ErrorIs(t, err, ErrNothingToSave)

	_, _, err = s.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "11"})
	require.NoError(t, err)
	s.SelectCell(SelectedCell{RowID: "1", ColumnID: "c1"})
	before := s.ChangedRows()

	_, err = s.BeginSave()
	require.NoError(t, err)

	_, err = s.BeginSave()
	assert.ErrorIs(t, err, ErrSaveInFlight)
	_, _, err = s.ApplyEdit(EditRequest{RowID: "1", ColNr: 2, Text: "1"})
	assert.ErrorIs(t, err, ErrSaveInFlight)

	s.FinishSave(errors.New("backend down"))
	assert.Equal(t, before, s.ChangedRows())
	assert.NotNil(t, s.Snapshot(false).SelectedCell)

	_, err = s.BeginSave()
	require.NoError(t, err)
	s.FinishSave(nil)

	view := s.Snapshot(false)
	assert.Empty(t, s.ChangedRows())
	assert.Nil(t, view.SelectedCell)
	assert.Nil(t, view.LastChangeTimestamp)
	assert.False(t, view.Saving)
}

func TestDialogGatesOutsideClick(t *testing.T) {
	s := NewSession("s1", 1, "u")
	assert.True(t, s.ShouldCloseOnOutsideClick())

	s.SetDialog(DialogState{IsOpen: true, DialogType: "comment"})
	assert.False(t, s.ShouldCloseOnOutsideClick())

	s.SetDialog(DialogState{IsOpen: false, DialogType: "comment"})
	assert.True(t, s.ShouldCloseOnOutsideClick())
	assert.Equal(t, DialogState{}, s.Snapshot(false).Dialog)
}

func TestMarkConflictRequiresPendingChanges(t *testing.T) {
	s := loadedSession(t)
	assert.False(t, s.MarkConflict(ConflictInfo{SessionID: "other"}))

	_, _, err := s.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "12"})
	require.NoError(t, err)
	assert.True(t, s.MarkConflict(ConflictInfo{SessionID: "other", CellCount: 3}))
	require.NotNil(t, s.Snapshot(false).Conflict)

	_, err = s.BeginSave()
	require.NoError(t, err)
	s.FinishSave(nil)
	assert.Nil(t, s.Snapshot(false).Conflict)
}

func TestResetDiscardsEverything(t *testing.T) {
	s := loadedSession(t)
	_, _, err := s.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "12"})
	require.NoError(t, err)

	inFlight := s.BeginLoad(FetchSheet)
	s.Reset()

	assert.ErrorIs(t, s.CompleteSheetLoad(inFlight, twoByThree()), ErrStaleResponse)

	view := s.Snapshot(true)
	assert.Equal(t, StatusIdle, view.Status)
	assert.Nil(t, view.Data)
	assert.Nil(t, view.SelectedSheet)
	assert.False(t, view.Dirty)
}

func TestEditsSurviveSheetSwitchPerSheet(t *testing.T) {
	s := loadedSession(t)
	_, _, err := s.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "11"})
	require.NoError(t, err)

	// sheet 7 reuses row id "1"
	other := sheet.Decode(sheet.RawGrid{
		Columns: []sheet.Column{{ColumnID: "c1", Label: "0010"}},
		ValueRows: []sheet.RawRow{{RowID: "1", Cells: []sheet.RawCell{
			{CellID: 71, SheetID: 7, RowNr: 1, ColNr: 1, Type: sheet.CellNumber, Text: "70"},
		}}},
	})
	s.SelectSheet(SelectedSheet{Label: "F 02.00", SheetID: 7})
	seq := s.BeginLoad(FetchSheet)
	require.NoError(t, s.CompleteSheetLoad(seq, other))

	row, recorded, err := s.ApplyEdit(EditRequest{RowID: "1", ColNr: 1, Text: "71"})
	require.NoError(t, err)
	require.True(t, recorded)
	assert.Equal(t, 7, row.SheetID)
	assert.Equal(t, "70", row.OriginalRow.Cells[0].Text)

	rows := s.ChangedRows()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, r.SheetID, r.OriginalRow.Cells[0].SheetID)
		assert.Equal(t, r.SheetID, r.UpdatedRow.Cells[0].SheetID)
		require.Len(t, r.ChangedCells, 1)
	}
	assert.Len(t, s.Flatten(), 2)
}

func TestTablesLoadDoesNotMaskSheetStatus(t *testing.T) {
	s := NewSession("s1", 100, "u1")
	cells := 3

	sheetSeq := s.BeginLoad(FetchSheet)
	tablesSeq := s.BeginLoad(FetchTables)
	require.NoError(t, s.CompleteTablesLoad(tablesSeq, []sheet.TableNode{{Key: "t", CellCount: &cells}}))

	view := s.Snapshot(false)
	assert.Equal(t, StatusLoading, view.Status)
	assert.Equal(t, StatusLoaded, view.TablesStatus)

	require.NoError(t, s.FailLoad(FetchSheet, sheetSeq, errors.New("No data received")))
	tablesSeq = s.BeginLoad(FetchTables)
	require.NoError(t, s.CompleteTablesLoad(tablesSeq, []sheet.TableNode{{Key: "t", CellCount: &cells}}))

	st, msg := s.Status()
	assert.Equal(t, StatusError, st)
	assert.Equal(t, "No data received", msg)

	tablesSeq = s.BeginLoad(FetchTables)
	require.NoError(t, s.FailLoad(FetchTables, tablesSeq, errors.New("tables down")))
	st, msg = s.LoadStatus(FetchTables)
	assert.Equal(t, StatusError, st)
	assert.Equal(t, "tables down", msg)
	st, msg = s.Status()
	assert.Equal(t, StatusError, st)
	assert.Equal(t, "No data received", msg)
}
