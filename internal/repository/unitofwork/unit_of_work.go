package unitofwork

import (
	"context"

	"regnxt-workbook-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	SaveAuditRepository() contract.SaveAuditRepository
}
