package mapper

import (
	"encoding/json"

	"regnxt-workbook-be/internal/entity"
	"regnxt-workbook-be/internal/model"
	"regnxt-workbook-be/pkg/changes"

	"gorm.io/datatypes"
)

type SaveAuditMapper struct{}

func NewSaveAuditMapper() *SaveAuditMapper {
	return &SaveAuditMapper{}
}

func (m *SaveAuditMapper) ToEntity(a *model.SaveAudit) *entity.SaveAudit {
	if a == nil {
		return nil
	}
	cells := make([]changes.ChangedCell, 0, a.CellCount)
	if len(a.Cells) > 0 {
		// A corrupt snapshot still yields the audit header.
		_ = json.Unmarshal(a.Cells, &cells)
	}
	return &entity.SaveAudit{
		Id:         a.Id,
		WorkbookId: a.WorkbookId,
		SessionId:  a.SessionId,
		UserId:     a.UserId,
		Reason:     a.Reason,
		Cells:      cells,
		SavedAt:    a.SavedAt,
		CreatedAt:  a.CreatedAt,
	}
}

func (m *SaveAuditMapper) ToModel(a *entity.SaveAudit) (*model.SaveAudit, error) {
	if a == nil {
		return nil, nil
	}
	cells := a.Cells
	if cells == nil {
		cells = []changes.ChangedCell{}
	}
	raw, err := json.Marshal(cells)
	if err != nil {
		return nil, err
	}
	return &model.SaveAudit{
		Id:         a.Id,
		WorkbookId: a.WorkbookId,
		SessionId:  a.SessionId,
		UserId:     a.UserId,
		Reason:     a.Reason,
		CellCount:  len(a.Cells),
		Cells:      datatypes.JSON(raw),
		SavedAt:    a.SavedAt,
		CreatedAt:  a.CreatedAt,
	}, nil
}

func (m *SaveAuditMapper) ToEntities(audits []*model.SaveAudit) []*entity.SaveAudit {
	entities := make([]*entity.SaveAudit, len(audits))
	for i, a := range audits {
		entities[i] = m.ToEntity(a)
	}
	return entities
}
