package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileChanges carries the self-serviceable fields. Role is deliberately
// absent; it can only move through ChangeRole.
type ProfileChanges struct {
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// Directory is the only mutation surface over the principal store. Every
// write passes an authorization policy check first; role changes and their
// audit records commit as one transaction.
type Directory struct {
	repo     RepositoryManager
	policy   *Policy
	audit    *AuditLog
	sink     ActivitySink
	logger   Logger
	provider LoggerProvider
}

// NewDirectory wires the mutation hub.
func NewDirectory(repo RepositoryManager, policy *Policy, audit *AuditLog) *Directory {
	provider, logger := ResolveLogger("identity.directory", nil, nil)
	return &Directory{
		repo:     repo,
		policy:   policy,
		audit:    audit,
		sink:     noopActivitySink{},
		logger:   logger,
		provider: provider,
	}
}

func (d *Directory) WithLogger(l Logger) *Directory {
	d.provider, d.logger = ResolveLogger("identity.directory", d.provider, l)
	return d
}

// WithActivitySink configures a sink for telemetry events.
func (d *Directory) WithActivitySink(sink ActivitySink) *Directory {
	d.sink = normalizeActivitySink(sink)
	return d
}

// GetProfile returns a principal's record; public profile reads are
// unrestricted (policy rule one), so no actor is required.
func (d *Directory) GetProfile(ctx context.Context, subjectID uuid.UUID) (*Principal, error) {
	return d.repo.Principals().Get(ctx, subjectID)
}

// UpdateProfile applies non-role field changes to the actor's own record.
func (d *Directory) UpdateProfile(ctx context.Context, actor *Principal, subjectID uuid.UUID, changes ProfileChanges) (*Principal, error) {
	var updated *Principal

	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		target, err := d.repo.Principals().GetTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		decision, err := d.policy.CheckTx(ctx, tx, CheckRequest{
			Actor:  actor,
			Action: ActionUpdateSelfFields,
			Target: target,
		})
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return decision.Err()
		}

		if changes.DisplayName != nil {
			target.DisplayName = *changes.DisplayName
		}
		if changes.Email != nil {
			email := normalizeEmail(*changes.Email)
			if !isEmail(email) {
				return goerrors.New("invalid email", goerrors.CategoryValidation).
					WithTextCode("invalid_email")
			}
			target.Email = email
		}

		updated, err = d.repo.Principals().UpdateProfileTx(ctx, tx, target)
		if err != nil {
			if isUniqueViolation(err) {
				return errWithMeta(ErrDuplicateProfile, map[string]any{"email": target.Email})
			}
			return err
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ChangeRole moves a principal to a new role. The policy check, the role
// write, and the audit insert share one transaction; any failure rolls the
// whole mutation back. Assigning the current role is a no-op and writes no
// audit record.
func (d *Directory) ChangeRole(ctx context.Context, actor *Principal, subjectID uuid.UUID, newRole Role, reason string) (*Principal, error) {
	var updated *Principal
	var oldRole Role
	changed := false

	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		target, err := d.repo.Principals().GetTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		decision, err := d.policy.CheckTx(ctx, tx, CheckRequest{
			Actor:   actor,
			Action:  ActionUpdateRole,
			Target:  target,
			NewRole: newRole,
		})
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return decision.Err()
		}

		oldRole = target.Role
		if oldRole == newRole {
			updated = target
			return nil
		}

		updated, err = d.repo.Principals().UpdateRoleTx(ctx, tx, subjectID, newRole)
		if err != nil {
			return err
		}

		if _, err := d.audit.RecordTx(ctx, tx, updated, actor, oldRole, newRole, reason); err != nil {
			// Auditing is not best-effort; fail the mutation.
			return err
		}

		changed = true
		return nil
	})

	if err != nil {
		return nil, err
	}

	if changed {
		emitActivity(ctx, d.sink, d.logger, ActivityEvent{
			EventType:   ActivityEventRoleChanged,
			Actor:       ActorRef{ID: actor.ID.String(), Type: "principal"},
			PrincipalID: subjectID.String(),
			FromRole:    oldRole,
			ToRole:      newRole,
			Metadata:    map[string]any{"reason": reason},
		})
	}

	return updated, nil
}

// DeletePrincipal removes another principal's record. Self-deletion is
// always denied by policy.
func (d *Directory) DeletePrincipal(ctx context.Context, actor *Principal, subjectID uuid.UUID) error {
	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		target, err := d.repo.Principals().GetTx(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		decision, err := d.policy.CheckTx(ctx, tx, CheckRequest{
			Actor:  actor,
			Action: ActionDeleteTarget,
			Target: target,
		})
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return decision.Err()
		}

		// Deleting an admin must not drop the admin count to zero either;
		// the record disappears along with its role.
		if target.Role.IsAdmin() {
			count, err := d.repo.Principals().CountAdminsTx(ctx, tx)
			if err != nil {
				return err
			}
			if count <= 1 {
				return denyLastAdmin(ActionDeleteTarget, "cannot remove last administrator").Err()
			}
		}

		return d.repo.Principals().DeleteTx(ctx, tx, subjectID)
	})

	if err != nil {
		return err
	}

	emitActivity(ctx, d.sink, d.logger, ActivityEvent{
		EventType:   ActivityEventPrincipalDeleted,
		Actor:       ActorRef{ID: actor.ID.String(), Type: "principal"},
		PrincipalID: subjectID.String(),
	})

	return nil
}

// AuditTrail lists role transitions for a subject; admin only.
func (d *Directory) AuditTrail(ctx context.Context, actor *Principal, subjectID uuid.UUID) ([]*RoleAuditRecord, error) {
	decision, err := d.policy.Check(ctx, CheckRequest{
		Actor:  actor,
		Action: ActionReadAudit,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	return d.repo.RoleAudits().ListBySubject(ctx, subjectID)
}
