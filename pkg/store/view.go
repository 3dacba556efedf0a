package store

import (
	"time"

	"regnxt-workbook-be/pkg/sheet"
)

// SessionView is a point-in-time copy of a session, safe to serialise.
type SessionView struct {
	ID                  string            `json:"id"`
	WorkbookID          int               `json:"workbookId"`
	Status              Status            `json:"status"`
	Error               string            `json:"error,omitempty"`
	TablesStatus        Status            `json:"tablesStatus"`
	TablesError         string            `json:"tablesError,omitempty"`
	Data                *sheet.Grid       `json:"data"`
	TableStructure      []sheet.TableNode `json:"tableStructure,omitempty"`
	SelectedSheet       *SelectedSheet    `json:"selectedSheet"`
	TotalCounts         sheet.TotalCounts `json:"totalCounts"`
	SelectedCell        *SelectedCell     `json:"selectedCell"`
	Dialog              DialogState       `json:"dialogState"`
	Saving              bool              `json:"saving"`
	Dirty               bool              `json:"dirty"`
	ChangedRowCount     int               `json:"changedRowCount"`
	ChangedCellCount    int               `json:"changedCellCount"`
	LastChangeTimestamp *time.Time        `json:"lastChangeTimestamp"`
	Conflict            *ConflictInfo     `json:"conflict,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// Snapshot copies the session. withData controls whether the grid is included.
func (s *Session) Snapshot(withData bool) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	sheetLoad := s.loadStateLocked(FetchSheet)
	tablesLoad := s.loadStateLocked(FetchTables)
	v := SessionView{
		ID:                  s.ID,
		WorkbookID:          s.WorkbookID,
		Status:              sheetLoad.status,
		Error:               sheetLoad.err,
		TablesStatus:        tablesLoad.status,
		TablesError:         tablesLoad.err,
		TableStructure:      s.tables,
		TotalCounts:         s.totalCounts,
		Dialog:              s.dialog,
		Saving:              s.saving,
		Dirty:               s.changes.Dirty(),
		ChangedRowCount:     s.changes.Len(),
		ChangedCellCount:    s.changes.CellCount(),
		LastChangeTimestamp: s.changes.LastChange(),
		UpdatedAt:           s.updatedAt,
	}
	if withData {
		v.Data = s.data.Clone()
	}
	if s.selectedSheet != nil {
		sel := *s.selectedSheet
		v.SelectedSheet = &sel
	}
	if s.selectedCell != nil {
		cell := *s.selectedCell
		v.SelectedCell = &cell
	}
	if s.conflict != nil {
		c := *s.conflict
		v.Conflict = &c
	}
	return v
}

// Status reports the state of the sheet fetch.
func (s *Session) Status() (Status, string) {
	return s.LoadStatus(FetchSheet)
}

func (s *Session) LoadStatus(kind FetchKind) (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.loadStateLocked(kind)
	return ls.status, ls.err
}
