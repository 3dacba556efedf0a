package store

import (
	"errors"
	"sync"
	"time"

	"regnxt-workbook-be/pkg/changes"
	"regnxt-workbook-be/pkg/sheet"
)

var (
	ErrNoData          = errors.New("no sheet data loaded")
	ErrRowNotFound     = errors.New("row not found in current sheet")
	ErrCellNotFound    = errors.New("column not found in row")
	ErrCellNotEditable = errors.New("cell is not editable")
	ErrStaleResponse   = errors.New("response superseded by a newer request")
	ErrNothingToSave   = errors.New("no pending changes")
	ErrSaveInFlight    = errors.New("save already in progress")
)

// Status is the async load state of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// FetchKind separates the request sequences of independent fetches.
type FetchKind int

const (
	FetchSheet FetchKind = iota
	FetchTables
)

// loadState is the outcome of the latest fetch of one kind. The session status
// follows the sheet fetch; table loads never overwrite it.
type loadState struct {
	status Status
	err    string
}

type SelectedSheet struct {
	Label        string `json:"label"`
	Table        string `json:"table"`
	SheetID      int    `json:"sheetId"`
	CellCount    int    `json:"cellcount"`
	InvalidCount int    `json:"invalidcount"`
}

type SelectedCell struct {
	RowID    sheet.RowID `json:"rowId"`
	ColumnID string      `json:"columnId"`
	Label    string      `json:"label"`
	Table    string      `json:"table"`
}

type DialogState struct {
	IsOpen     bool   `json:"isOpen"`
	DialogType string `json:"dialogType,omitempty"`
}

// ConflictInfo records that another editor saved the same workbook while this
// session still held pending changes.
type ConflictInfo struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	CellCount int       `json:"cellCount"`
	SavedAt   time.Time `json:"savedAt"`
}

// EditRequest addresses a value-row cell by row id and 1-based column number.
type EditRequest struct {
	RowID   sheet.RowID
	ColNr   int
	Text    string
	Comment string
}

// Session is the state of one open workbook editor.
type Session struct {
	ID         string
	WorkbookID int
	UserID     string
	CreatedAt  time.Time

	mu            sync.Mutex
	data          *sheet.Grid
	tables        []sheet.TableNode
	selectedSheet *SelectedSheet
	totalCounts   sheet.TotalCounts
	loads         map[FetchKind]loadState
	selectedCell  *SelectedCell
	dialog        DialogState
	saving        bool
	conflict      *ConflictInfo
	changes       *changes.Accumulator
	seq           map[FetchKind]uint64
	updatedAt     time.Time
}

func NewSession(id string, workbookID int, userID string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		WorkbookID: workbookID,
		UserID:     userID,
		CreatedAt:  now,
		loads:      make(map[FetchKind]loadState),
		changes:    changes.NewAccumulator(),
		seq:        make(map[FetchKind]uint64),
		updatedAt:  now,
	}
}

// SelectSheet makes sheet the active sheet. Loading its grid is a separate step.
func (s *Session) SelectSheet(sel SelectedSheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedSheet = &sel
	s.touch()
}

func (s *Session) SelectedSheet() (SelectedSheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedSheet == nil {
		return SelectedSheet{}, false
	}
	return *s.selectedSheet, true
}

// BeginLoad moves the session to loading and returns the sequence number the
// response must present to be committed.
func (s *Session) BeginLoad(kind FetchKind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[kind]++
	s.loads[kind] = loadState{status: StatusLoading}
	s.touch()
	return s.seq[kind]
}

func (s *Session) CompleteSheetLoad(seq uint64, grid *sheet.Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq[FetchSheet] {
		return ErrStaleResponse
	}
	s.data = grid
	s.loads[FetchSheet] = loadState{status: StatusLoaded}
	s.touch()
	return nil
}

func (s *Session) CompleteTablesLoad(seq uint64, nodes []sheet.TableNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq[FetchTables] {
		return ErrStaleResponse
	}
	s.tables = nodes
	s.totalCounts = sheet.SumCounts(nodes)
	s.loads[FetchTables] = loadState{status: StatusLoaded}
	s.touch()
	return nil
}

// FailLoad records a fetch error. The last good grid is kept.
func (s *Session) FailLoad(kind FetchKind, seq uint64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq[kind] {
		return ErrStaleResponse
	}
	s.loads[kind] = loadState{status: StatusError, err: cause.Error()}
	s.touch()
	return nil
}

func (s *Session) SetTotalCounts(c sheet.TotalCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCounts = c
	s.touch()
}

// ApplyEdit writes text into the addressed cell of the current grid and records
// the diff. recorded is false when the text did not change.
func (s *Session) ApplyEdit(req EditRequest) (row changes.ChangedRow, recorded bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saving {
		return changes.ChangedRow{}, false, ErrSaveInFlight
	}
	if s.data.Empty() {
		return changes.ChangedRow{}, false, ErrNoData
	}
	rowIdx, ok := s.data.FindRow(req.RowID)
	if !ok {
		return changes.ChangedRow{}, false, ErrRowNotFound
	}
	live := &s.data.ValueRows[rowIdx]
	cellIdx := live.CellIndex(req.ColNr)
	if cellIdx < 0 {
		return changes.ChangedRow{}, false, ErrCellNotFound
	}

	before := live.Cells[cellIdx]
	if before.NonEditable {
		return changes.ChangedRow{}, false, ErrCellNotEditable
	}
	if before.SheetID == 0 && s.selectedSheet != nil {
		before.SheetID = s.selectedSheet.SheetID
	}
	if before.RowNr == 0 {
		before.RowNr = rowIdx + 1
	}
	if before.ColNr == 0 {
		before.ColNr = req.ColNr
	}
	after := before.WithText(req.Text)

	original := live.Clone()
	live.Cells[cellIdx] = after
	updated := live.Clone()

	edit := changes.Edit{
		SheetID:     before.SheetID,
		RowID:       req.RowID,
		Before:      before,
		After:       after,
		OriginalRow: original,
		UpdatedRow:  updated,
		Context: changes.EditContext{
			ColumnLabel: s.data.ColumnLabel(req.ColNr),
			Comment:     req.Comment,
		},
	}
	recorded = s.changes.RecordEdit(edit)
	if recorded {
		s.touch()
	}
	row, _ = s.changes.Row(edit.Key())
	return row, recorded, nil
}

func (s *Session) ChangedRows() []changes.ChangedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes.Rows()
}

func (s *Session) Flatten() []changes.ChangedCell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes.Flatten()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes.Dirty()
}

// ClearChanges drops every pending change and the cell selection.
func (s *Session) ClearChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearChangesLocked()
}

func (s *Session) clearChangesLocked() {
	s.changes.Clear()
	s.selectedCell = nil
	s.touch()
}

func (s *Session) SelectCell(cell SelectedCell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedCell = &cell
	s.touch()
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedCell = nil
	s.touch()
}

func (s *Session) SetDialog(d DialogState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.IsOpen {
		d.DialogType = ""
	}
	s.dialog = d
	s.touch()
}

// ShouldCloseOnOutsideClick is false while a modal dialog is open, so the editor
// panel does not close underneath it.
func (s *Session) ShouldCloseOnOutsideClick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dialog.IsOpen
}

// BeginSave snapshots the submission list and marks the session as saving.
func (s *Session) BeginSave() ([]changes.ChangedCell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving {
		return nil, ErrSaveInFlight
	}
	if !s.changes.Dirty() {
		return nil, ErrNothingToSave
	}
	s.saving = true
	s.touch()
	return s.changes.Flatten(), nil
}

// FinishSave ends a save. Pending changes are cleared only when cause is nil.
func (s *Session) FinishSave(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if cause == nil {
		s.clearChangesLocked()
		s.conflict = nil
		return
	}
	s.touch()
}

// MarkConflict flags the session when it holds changes that another editor's
// save may have overtaken. It reports whether the flag was set.
func (s *Session) MarkConflict(info ConflictInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.changes.Dirty() {
		return false
	}
	s.conflict = &info
	s.touch()
	return true
}

// Reset returns the session to its freshly opened state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes.Clear()
	s.data = nil
	s.tables = nil
	s.selectedSheet = nil
	s.selectedCell = nil
	s.dialog = DialogState{}
	s.totalCounts = sheet.TotalCounts{}
	s.conflict = nil
	s.loads = make(map[FetchKind]loadState)
	// Bump every sequence so in-flight responses cannot repopulate the session.
	for k := range s.seq {
		s.seq[k]++
	}
	s.touch()
}

// loadStateLocked reports idle for kinds that were never fetched.
func (s *Session) loadStateLocked(kind FetchKind) loadState {
	if ls, ok := s.loads[kind]; ok {
		return ls
	}
	return loadState{status: StatusIdle}
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}
