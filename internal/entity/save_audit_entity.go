package entity

import (
	"time"

	"regnxt-workbook-be/pkg/changes"

	"github.com/google/uuid"
)

type SaveAudit struct {
	Id         uuid.UUID
	WorkbookId int
	SessionId  string
	UserId     string
	Reason     string
	Cells      []changes.ChangedCell
	SavedAt    time.Time
	CreatedAt  time.Time
}
