package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsDuplicateProfile(ErrDuplicateProfile))
	assert.True(t, IsPermissionDenied(ErrPermissionDenied))
	assert.True(t, IsPermissionDenied(ErrLastAdminViolation))
	assert.True(t, IsLastAdminViolation(ErrLastAdminViolation))
	assert.False(t, IsLastAdminViolation(ErrPermissionDenied))
	assert.True(t, IsClaimsSyncFailure(ErrClaimsSyncFailure))
	assert.False(t, IsClaimsSyncFailure(ErrPrincipalNotFound))
	assert.True(t, IsProviderUnavailable(ErrProviderUnavailable))
	assert.True(t, IsPrincipalNotFound(ErrPrincipalNotFound))
	assert.True(t, IsTokenExpiredError(ErrTokenExpired))
	assert.True(t, IsMalformedError(ErrTokenMalformed))

	assert.False(t, IsDuplicateProfile(nil))
	assert.False(t, IsPermissionDenied(nil))
	assert.False(t, IsDuplicateProfile(assert.AnError))
}

func TestErrWithMetaLeavesSharedVarPristine(t *testing.T) {
	err := errWithMeta(ErrDuplicateProfile, map[string]any{"email": "dup@example.com"})

	assert.True(t, IsDuplicateProfile(err))
	assert.Nil(t, ErrDuplicateProfile.Metadata, "shared var must not pick up call-site metadata")

	err = principalNotFound(map[string]any{"id": "abc"})
	assert.True(t, IsPrincipalNotFound(err))
	assert.Nil(t, ErrPrincipalNotFound.Metadata)
}
