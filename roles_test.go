package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_IsValid(t *testing.T) {
	assert.True(t, RoleUser.IsValid())
	assert.True(t, RoleAdmin.IsValid())
	assert.True(t, RoleSuperAdmin.IsValid())
	assert.False(t, Role("guest").IsValid())
	assert.False(t, Role("").IsValid())
}

func TestRole_IsAdmin(t *testing.T) {
	assert.False(t, RoleUser.IsAdmin())
	assert.True(t, RoleAdmin.IsAdmin())
	assert.True(t, RoleSuperAdmin.IsAdmin())
	assert.False(t, Role("root").IsAdmin())
}

func TestRole_IsAtLeast(t *testing.T) {
	assert.True(t, RoleSuperAdmin.IsAtLeast(RoleAdmin))
	assert.True(t, RoleAdmin.IsAtLeast(RoleAdmin))
	assert.True(t, RoleAdmin.IsAtLeast(RoleUser))
	assert.False(t, RoleUser.IsAtLeast(RoleAdmin))
	assert.False(t, Role("unknown").IsAtLeast(RoleUser))
	assert.False(t, RoleUser.IsAtLeast(Role("unknown")))
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("admin")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	_, ok = ParseRole("overlord")
	assert.False(t, ok)
}

func TestClaimSetForRole(t *testing.T) {
	assert.Equal(t, ClaimSet{UserRole: RoleAdmin, IsAdmin: true}, ClaimSetForRole(RoleAdmin))
	assert.Equal(t, ClaimSet{UserRole: RoleUser, IsAdmin: false}, ClaimSetForRole(RoleUser))

	// Unknown roles degrade to the default claim set.
	assert.Equal(t, DefaultClaimSet(), ClaimSetForRole(Role("owner")))
}
