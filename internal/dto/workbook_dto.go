package dto

import (
	"time"

	"regnxt-workbook-be/pkg/changes"
	"regnxt-workbook-be/pkg/sheet"
	"regnxt-workbook-be/pkg/store"
)

// SessionRef identifies the caller and the session a request targets. It is
// filled from the route and the JWT, never from the body.
type SessionRef struct {
	SessionId string `json:"-"`
	UserId    string `json:"-"`
	Token     string `json:"-"`
}

type OpenSessionRequest struct {
	UserId     string `json:"-"`
	Token      string `json:"-"`
	WorkbookId int    `json:"workbookId" validate:"required,gt=0"`
}

type LoadSheetRequest struct {
	SessionRef
	SheetId      int    `json:"sheetId" validate:"required,gt=0"`
	Label        string `json:"label"`
	Table        string `json:"table"`
	CellCount    int    `json:"cellcount" validate:"gte=0"`
	InvalidCount int    `json:"invalidcount" validate:"gte=0"`
}

type LoadTablesRequest struct {
	SessionRef
	IncludeSheets bool
}

type TablesResponse struct {
	TableStructure []sheet.TableNode `json:"tableStructure"`
	TotalCounts    sheet.TotalCounts `json:"totalCounts"`
}

type RecordEditRequest struct {
	SessionRef
	RowId   sheet.RowID `json:"rowId" validate:"required"`
	ColNr   int         `json:"colNr" validate:"required,gt=0"`
	Text    string      `json:"text"`
	Comment string      `json:"comment" validate:"max=2000"`
}

type RecordEditResponse struct {
	Recorded         bool               `json:"recorded"`
	Row              changes.ChangedRow `json:"row"`
	ChangedRowCount  int                `json:"changedRowCount"`
	ChangedCellCount int                `json:"changedCellCount"`
}

type PendingChangesResponse struct {
	Cells               []changes.ChangedCell `json:"cells"`
	ChangedRowCount     int                   `json:"changedRowCount"`
	LastChangeTimestamp *time.Time            `json:"lastChangeTimestamp"`
}

type SelectCellRequest struct {
	SessionRef
	RowId    sheet.RowID `json:"rowId" validate:"required"`
	ColumnId string      `json:"columnId" validate:"required"`
	Label    string      `json:"label"`
	Table    string      `json:"table"`
}

type SetDialogRequest struct {
	SessionRef
	IsOpen     bool   `json:"isOpen"`
	DialogType string `json:"dialogType" validate:"required_if=IsOpen true"`
}

type DialogResponse struct {
	Dialog                    store.DialogState `json:"dialogState"`
	ShouldCloseOnOutsideClick bool              `json:"shouldCloseOnOutsideClick"`
}

type SaveRequest struct {
	SessionRef
	Reason string `json:"reason" validate:"max=500"`
}

type SaveResponse struct {
	CellCount int               `json:"cellCount"`
	SavedAt   time.Time         `json:"savedAt"`
	Session   store.SessionView `json:"session"`
}

// SaveAuditMessage travels over the in-process audit topic after a successful save.
type SaveAuditMessage struct {
	WorkbookId int                   `json:"workbook_id"`
	SessionId  string                `json:"session_id"`
	UserId     string                `json:"user_id"`
	Reason     string                `json:"reason"`
	Cells      []changes.ChangedCell `json:"cells"`
	SavedAt    time.Time             `json:"saved_at"`
}

type SaveHistoryItem struct {
	Id        string                `json:"id"`
	SessionId string                `json:"sessionId"`
	UserId    string                `json:"userId"`
	Reason    string                `json:"reason"`
	CellCount int                   `json:"cellCount"`
	Cells     []changes.ChangedCell `json:"cells,omitempty"`
	SavedAt   time.Time             `json:"savedAt"`
}

type SaveHistoryResponse struct {
	Items []SaveHistoryItem `json:"items"`
	Total int64             `json:"total"`
}
