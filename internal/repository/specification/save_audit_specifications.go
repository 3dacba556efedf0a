package specification

import "gorm.io/gorm"

// ByWorkbookID filters audit rows by workbook
type ByWorkbookID struct {
	WorkbookID int
}

func (s ByWorkbookID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("workbook_id = ?", s.WorkbookID)
}

// BySessionID filters audit rows by the editor session that saved them
type BySessionID struct {
	SessionID string
}

func (s BySessionID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("session_id = ?", s.SessionID)
}
