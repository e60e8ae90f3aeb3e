package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Action is a mutation or read the policy can evaluate.
type Action string

const (
	// ActionReadProfile reads another principal's public fields
	ActionReadProfile Action = "read_profile"
	// ActionUpdateSelfFields updates the caller's own non-role fields
	ActionUpdateSelfFields Action = "update_self_fields"
	// ActionUpdateRole changes another principal's role
	ActionUpdateRole Action = "update_role"
	// ActionDeleteTarget removes another principal's record
	ActionDeleteTarget Action = "delete_target"
	// ActionReadAudit lists role audit records
	ActionReadAudit Action = "read_audit"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Action  Action
	Reason  string
	// lastAdmin marks denials caused by the last-admin invariant so the
	// error surface can name it.
	lastAdmin bool
}

// Allow builds an allowing decision.
func Allow(action Action) Decision {
	return Decision{Allowed: true, Action: action}
}

// Deny builds a denying decision with the violated rule's reason.
func Deny(action Action, reason string) Decision {
	return Decision{Action: action, Reason: reason}
}

func denyLastAdmin(action Action, reason string) Decision {
	return Decision{Action: action, Reason: reason, lastAdmin: true}
}

// Err converts a denial into the rich error surfaced to callers. The
// metadata names the denied action without leaking target data.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}

	base := ErrPermissionDenied
	if d.lastAdmin {
		base = ErrLastAdminViolation
	}

	clone := base.Clone()
	if clone == nil {
		return base
	}

	if d.Reason != "" {
		clone.Message = d.Reason
	}
	clone.Source = base

	return clone.WithMetadata(map[string]any{
		"action": string(d.Action),
		"reason": d.Reason,
	})
}

// CheckRequest carries everything the policy needs to evaluate one action.
// NewRole is consulted only for update_role.
type CheckRequest struct {
	Actor   *Principal
	Action  Action
	Target  *Principal
	NewRole Role
}

// AdminCounter reports how many admin-capable principals exist. The policy
// consults it inside the mutation transaction so the last-admin invariant
// holds at commit time.
type AdminCounter interface {
	CountAdminsTx(ctx context.Context, tx bun.IDB) (int, error)
}

// Policy evaluates whether a requested mutation is permitted given the
// actor's role and the target. Rules run in order; first match wins.
type Policy struct {
	admins   AdminCounter
	logger   Logger
	provider LoggerProvider
}

// NewPolicy creates the authorization policy over the given admin counter.
func NewPolicy(admins AdminCounter) *Policy {
	provider, logger := ResolveLogger("identity.policy", nil, nil)
	return &Policy{
		admins:   admins,
		logger:   logger,
		provider: provider,
	}
}

func (p *Policy) WithLogger(l Logger) *Policy {
	p.provider, p.logger = ResolveLogger("identity.policy", p.provider, l)
	return p
}

// Check evaluates the request outside an explicit transaction.
func (p *Policy) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	return p.CheckTx(ctx, nil, req)
}

// CheckTx evaluates the request, counting admins through tx when one is
// given so the decision and the mutation share a transaction.
func (p *Policy) CheckTx(ctx context.Context, tx bun.IDB, req CheckRequest) (Decision, error) {
	if req.Actor == nil {
		return Deny(req.Action, "missing acting principal"), nil
	}

	switch req.Action {
	case ActionReadProfile:
		// Public profile fields are readable by anyone.
		return Allow(req.Action), nil

	case ActionUpdateSelfFields:
		return p.checkSelfUpdate(req), nil

	case ActionUpdateRole:
		return p.checkRoleUpdate(ctx, tx, req)

	case ActionDeleteTarget:
		return p.checkDelete(req), nil

	case ActionReadAudit:
		if !req.Actor.Role.IsAdmin() {
			return Deny(req.Action, "only administrators may read the audit trail"), nil
		}
		return Allow(req.Action), nil
	}

	return Deny(req.Action, "unknown action"), nil
}

func (p *Policy) checkSelfUpdate(req CheckRequest) Decision {
	if req.Target == nil || req.Actor.ID != req.Target.ID {
		return Deny(req.Action, "principals may only update their own profile")
	}

	// Role is immutable through the self-update path, privileged or not.
	if req.NewRole != "" && req.NewRole != req.Actor.Role {
		return Deny(req.Action, "role cannot be changed through profile updates")
	}

	return Allow(req.Action)
}

func (p *Policy) checkRoleUpdate(ctx context.Context, tx bun.IDB, req CheckRequest) (Decision, error) {
	if !req.Actor.Role.IsAdmin() {
		return Deny(req.Action, "only administrators may change roles"), nil
	}

	if req.Target == nil {
		return Deny(req.Action, "missing target principal"), nil
	}

	if !req.NewRole.IsValid() {
		return Deny(req.Action, "requested role is not supported"), nil
	}

	// Demotion of an admin-capable principal must leave at least one other
	// admin behind, whether the actor demotes itself or someone else.
	if req.Target.Role.IsAdmin() && !req.NewRole.IsAdmin() {
		count, err := p.countAdmins(ctx, tx)
		if err != nil {
			return Decision{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count administrators")
		}

		if count <= 1 {
			return denyLastAdmin(req.Action, "cannot remove last administrator"), nil
		}
	}

	return Allow(req.Action), nil
}

func (p *Policy) checkDelete(req CheckRequest) Decision {
	if !req.Actor.Role.IsAdmin() {
		return Deny(req.Action, "only administrators may delete principals")
	}

	if req.Target == nil {
		return Deny(req.Action, "missing target principal")
	}

	if req.Actor.ID == req.Target.ID {
		return Deny(req.Action, "self-deletion is not permitted")
	}

	return Allow(req.Action)
}

func (p *Policy) countAdmins(ctx context.Context, tx bun.IDB) (int, error) {
	if p.admins == nil {
		return 0, goerrors.New("policy has no admin counter configured", goerrors.CategoryInternal)
	}
	return p.admins.CountAdminsTx(ctx, tx)
}
