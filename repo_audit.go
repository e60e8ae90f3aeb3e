package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RoleAudits is the append-only store for role transitions. There is no
// update or delete surface; records live as long as the table does.
type RoleAudits interface {
	RecordTx(ctx context.Context, tx bun.IDB, record *RoleAuditRecord) (*RoleAuditRecord, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*RoleAuditRecord, error)
	ListBySubjectTx(ctx context.Context, tx bun.IDB, subjectID uuid.UUID) ([]*RoleAuditRecord, error)
	List(ctx context.Context) ([]*RoleAuditRecord, error)
}

type roleAudits struct {
	repository.Repository[*RoleAuditRecord]
	db *bun.DB
}

var _ RoleAudits = (*roleAudits)(nil)

// NewRoleAuditsRepository builds the bun-backed audit store.
func NewRoleAuditsRepository(db *bun.DB) RoleAudits {
	repo := repository.NewRepository[*RoleAuditRecord](db, repository.ModelHandlers[*RoleAuditRecord]{
		NewRecord: func() *RoleAuditRecord { return &RoleAuditRecord{} },
		GetID: func(record *RoleAuditRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *RoleAuditRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
	})

	return &roleAudits{
		Repository: repo,
		db:         db,
	}
}

func (r *roleAudits) RecordTx(ctx context.Context, tx bun.IDB, record *RoleAuditRecord) (*RoleAuditRecord, error) {
	if record == nil {
		return nil, ErrInvalidRole
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}

	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *roleAudits) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*RoleAuditRecord, error) {
	return r.ListBySubjectTx(ctx, r.db, subjectID)
}

func (r *roleAudits) ListBySubjectTx(ctx context.Context, tx bun.IDB, subjectID uuid.UUID) ([]*RoleAuditRecord, error) {
	var records []*RoleAuditRecord
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.subject_id = ?", subjectID).
		Order("created_at DESC").
		Scan(ctx)
	return records, err
}

func (r *roleAudits) List(ctx context.Context) ([]*RoleAuditRecord, error) {
	var records []*RoleAuditRecord
	err := r.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Scan(ctx)
	return records, err
}
