package identity

import (
	"context"
	"net/mail"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var updatePrincipalRoleSQL = `UPDATE "principals" AS "prn"
SET
	"role" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"prn"."deleted_at" IS NULL
AND (
	"prn"."id" = ?
) RETURNING *;`

// Principals is the durable store of identity records. Role writes happen
// only through UpdateRoleTx so callers can keep them inside the same
// transaction as the audit insert.
type Principals interface {
	Get(ctx context.Context, id uuid.UUID) (*Principal, error)
	GetTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Principal, error)
	List(ctx context.Context) ([]*Principal, error)

	Count(ctx context.Context) (int, error)
	CountTx(ctx context.Context, tx bun.IDB) (int, error)
	CountAdmins(ctx context.Context) (int, error)
	CountAdminsTx(ctx context.Context, tx bun.IDB) (int, error)

	Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error)
	UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role Role) (*Principal, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type principals struct {
	repository.Repository[*Principal]
	db *bun.DB
}

var _ Principals = (*principals)(nil)

// NewPrincipalsRepository builds the bun-backed principal store.
func NewPrincipalsRepository(db *bun.DB) Principals {
	repo := repository.NewRepository[*Principal](db, repository.ModelHandlers[*Principal]{
		NewRecord: func() *Principal { return &Principal{} },
		GetID: func(p *Principal) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Principal, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &principals{
		Repository: repo,
		db:         db,
	}
}

func (r *principals) Get(ctx context.Context, id uuid.UUID) (*Principal, error) {
	return r.GetTx(ctx, r.db, id)
}

func (r *principals) GetTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error) {
	record := &Principal{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) || isNoRows(err) {
			return nil, principalNotFound(map[string]any{"id": id.String()})
		}
		return nil, err
	}

	return record, nil
}

func (r *principals) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *principals) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Principal, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrPrincipalNotFound
	}

	record := &Principal{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) || isNoRows(err) {
			return nil, principalNotFound(map[string]any{"email": email})
		}
		return nil, err
	}

	return record, nil
}

func (r *principals) List(ctx context.Context) ([]*Principal, error) {
	var records []*Principal
	err := r.db.NewSelect().
		Model(&records).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (r *principals) Count(ctx context.Context) (int, error) {
	return r.CountTx(ctx, r.db)
}

func (r *principals) CountTx(ctx context.Context, tx bun.IDB) (int, error) {
	if tx == nil {
		tx = r.db
	}
	return tx.NewSelect().
		Model((*Principal)(nil)).
		Count(ctx)
}

func (r *principals) CountAdmins(ctx context.Context) (int, error) {
	return r.CountAdminsTx(ctx, r.db)
}

func (r *principals) CountAdminsTx(ctx context.Context, tx bun.IDB) (int, error) {
	if tx == nil {
		tx = r.db
	}
	return tx.NewSelect().
		Model((*Principal)(nil)).
		Where("?TableAlias.role IN (?)", bun.In([]Role{RoleAdmin, RoleSuperAdmin})).
		Count(ctx)
}

func (r *principals) Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *principals) CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	preparePrincipalDefaults(record)
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

// UpdateProfileTx writes non-role fields. The role column is left untouched
// even if the record carries one.
func (r *principals) UpdateProfileTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, ErrPrincipalNotFound
	}

	q := tx.NewUpdate().
		Model(record).
		Column("display_name", "email").
		Set("updated_at = CURRENT_TIMESTAMP").
		WherePK().
		Returning("*")

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, principalNotFound(map[string]any{"id": record.ID.String()})
	}

	return record, nil
}

func (r *principals) UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role Role) (*Principal, error) {
	if !role.IsValid() {
		return nil, errWithMeta(ErrInvalidRole, map[string]any{"role": role})
	}

	res, err := r.Repository.RawTx(ctx, tx, updatePrincipalRoleSQL, string(role), id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, principalNotFound(map[string]any{"id": id.String()})
	}

	return res[0], nil
}

func (r *principals) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DeleteTx(ctx, r.db, id)
}

func (r *principals) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	record := &Principal{ID: id}
	res, err := tx.NewDelete().
		Model(record).
		WherePK().
		Exec(ctx)

	if err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return principalNotFound(map[string]any{"id": id.String()})
	}

	return nil
}

func preparePrincipalDefaults(record *Principal) {
	if record == nil {
		return
	}

	record.Email = normalizeEmail(record.Email)
	record.EnsureRole()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func principalNotFound(meta map[string]any) error {
	return errWithMeta(ErrPrincipalNotFound, meta)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows in result set")
}
