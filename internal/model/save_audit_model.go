package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SaveAudit is one change batch accepted by the RI backend.
type SaveAudit struct {
	Id         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	WorkbookId int            `gorm:"not null;index:idx_save_audits_workbook_saved,priority:1"`
	SessionId  string         `gorm:"type:varchar(64);not null"`
	UserId     string         `gorm:"type:varchar(64)"`
	Reason     string         `gorm:"type:text"`
	CellCount  int            `gorm:"not null;default:0"`
	Cells      datatypes.JSON `gorm:"type:jsonb"`
	SavedAt    time.Time      `gorm:"not null;index:idx_save_audits_workbook_saved,priority:2"`
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
}

func (SaveAudit) TableName() string {
	return "workbook_save_audits"
}
