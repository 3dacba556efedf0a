package contract

import (
	"context"

	"regnxt-workbook-be/internal/entity"
	"regnxt-workbook-be/internal/repository/specification"
)

type SaveAuditRepository interface {
	Create(ctx context.Context, audit *entity.SaveAudit) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.SaveAudit, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.SaveAudit, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
