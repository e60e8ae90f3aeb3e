package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is a principal's authorization role
type Role string

const (
	// RoleUser is the default role assigned at signup
	RoleUser Role = "user"
	// RoleAdmin can manage other principals and read the audit trail
	RoleAdmin Role = "admin"
	// RoleSuperAdmin carries the same permission set as admin; reserved for seeded operators
	RoleSuperAdmin Role = "super_admin"
)

// Principal is the durable identity record
type Principal struct {
	bun.BaseModel `bun:"table:principals,alias:prn"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName   string     `bun:"display_name" json:"display_name,omitempty"`
	Role          Role       `bun:"role,notnull" json:"role,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureRole normalizes a zero-value role to the default user role.
func (p *Principal) EnsureRole() {
	if p.Role == "" {
		p.Role = RoleUser
	}
}

// Snapshot returns a copy safe to hand to session callers.
func (p *Principal) Snapshot() *Principal {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// PublicProfile returns the fields any principal may read about another.
func (p *Principal) PublicProfile() map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"id":           p.ID.String(),
		"email":        p.Email,
		"display_name": p.DisplayName,
	}
}

// RoleAuditRecord is an immutable log entry for a committed role change.
// Records are inserted in the same transaction as the role write and are
// never updated or deleted.
type RoleAuditRecord struct {
	bun.BaseModel `bun:"table:role_audits,alias:raud"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SubjectID     uuid.UUID  `bun:"subject_id,notnull,type:uuid" json:"subject_id,omitempty"`
	ActorID       uuid.UUID  `bun:"actor_id,notnull,type:uuid" json:"actor_id,omitempty"`
	OldRole       Role       `bun:"old_role,notnull" json:"old_role,omitempty"`
	NewRole       Role       `bun:"new_role,notnull" json:"new_role,omitempty"`
	Reason        string     `bun:"reason" json:"reason,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// ClaimSet is the role-derived claim payload embedded in issued tokens.
// It is computed fresh at token-mint time and never persisted.
type ClaimSet struct {
	UserRole Role `json:"user_role"`
	IsAdmin  bool `json:"is_admin"`
}

// DefaultClaimSet is the claim set used when no principal row is visible yet.
// Token issuance must never block on profile-creation ordering.
func DefaultClaimSet() ClaimSet {
	return ClaimSet{UserRole: RoleUser, IsAdmin: false}
}

// ClaimSetForRole derives the claim set for a known role.
func ClaimSetForRole(role Role) ClaimSet {
	if !role.IsValid() {
		return DefaultClaimSet()
	}
	return ClaimSet{UserRole: role, IsAdmin: role.IsAdmin()}
}
