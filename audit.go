package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// AuditLog appends a RoleAuditRecord for every committed role change. It is
// invoked only from the policy-approved role-mutation path, inside the same
// transaction as the role write: if the audit insert fails the whole
// mutation rolls back.
type AuditLog struct {
	audits   RoleAudits
	clock    func() time.Time
	logger   Logger
	provider LoggerProvider
}

// NewAuditLog creates the audit log over the audit store.
func NewAuditLog(audits RoleAudits) *AuditLog {
	provider, logger := ResolveLogger("identity.audit", nil, nil)
	return &AuditLog{
		audits:   audits,
		clock:    time.Now,
		logger:   logger,
		provider: provider,
	}
}

func (a *AuditLog) WithLogger(l Logger) *AuditLog {
	a.provider, a.logger = ResolveLogger("identity.audit", a.provider, l)
	return a
}

// WithClock injects a custom clock (useful for tests).
func (a *AuditLog) WithClock(clock func() time.Time) *AuditLog {
	if clock != nil {
		a.clock = clock
	}
	return a
}

// RecordTx writes the audit entry for a role transition within tx.
func (a *AuditLog) RecordTx(ctx context.Context, tx bun.IDB, subject, actor *Principal, oldRole, newRole Role, reason string) (*RoleAuditRecord, error) {
	if subject == nil || actor == nil {
		return nil, goerrors.New("audit requires subject and actor", goerrors.CategoryInternal)
	}

	if !oldRole.IsValid() || !newRole.IsValid() {
		return nil, errWithMeta(ErrInvalidRole, map[string]any{
			"old_role": oldRole,
			"new_role": newRole,
		})
	}

	now := a.clock()
	record := &RoleAuditRecord{
		SubjectID: subject.ID,
		ActorID:   actor.ID,
		OldRole:   oldRole,
		NewRole:   newRole,
		Reason:    reason,
		CreatedAt: &now,
	}

	record, err := a.audits.RecordTx(ctx, tx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write role audit record")
	}

	return record, nil
}
