package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string         `json:"uid,omitempty"`
	UserRole string         `json:"user_role,omitempty"`
	Admin    bool           `json:"is_admin,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"` // extension payload
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the principal's role claim
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// IsAdmin reports whether the claims carry administrative privileges.
// The flag is stamped from the principal's current role at mint time and
// is consistent with the role claim by construction.
func (c *JWTClaims) IsAdmin() bool {
	return c.Admin
}

// IsAtLeast checks if the claim role is at least the minimum required role
func (c *JWTClaims) IsAtLeast(minRole string) bool {
	return Role(c.UserRole).IsAtLeast(Role(minRole))
}

// ClaimsMetadata exposes metadata extensions for optional context enrichment.
func (c *JWTClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

// ClaimSet returns the role-derived claim pair carried by the token.
func (c *JWTClaims) ClaimSet() ClaimSet {
	role, ok := ParseRole(c.UserRole)
	if !ok {
		return DefaultClaimSet()
	}
	return ClaimSet{UserRole: role, IsAdmin: c.Admin}
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
