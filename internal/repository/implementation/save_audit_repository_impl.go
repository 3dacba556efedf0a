package implementation

import (
	"context"
	"errors"

	"regnxt-workbook-be/internal/entity"
	"regnxt-workbook-be/internal/mapper"
	"regnxt-workbook-be/internal/model"
	"regnxt-workbook-be/internal/repository/contract"
	"regnxt-workbook-be/internal/repository/specification"

	"gorm.io/gorm"
)

type SaveAuditRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SaveAuditMapper
}

func NewSaveAuditRepository(db *gorm.DB) contract.SaveAuditRepository {
	return &SaveAuditRepositoryImpl{
		db:     db,
		mapper: mapper.NewSaveAuditMapper(),
	}
}

func (r *SaveAuditRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *SaveAuditRepositoryImpl) Create(ctx context.Context, audit *entity.SaveAudit) error {
	m, err := r.mapper.ToModel(audit)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*audit = *r.mapper.ToEntity(m)
	return nil
}

func (r *SaveAuditRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.SaveAudit, error) {
	var m model.SaveAudit
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *SaveAuditRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.SaveAudit, error) {
	var models []*model.SaveAudit
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *SaveAuditRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.SaveAudit{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
