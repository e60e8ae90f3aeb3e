package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeDuplicateProfile     = "duplicate_profile"
	TextCodeElectionContention   = "election_contention"
	TextCodePermissionDenied     = "permission_denied"
	TextCodeLastAdminViolation   = "last_admin_violation"
	TextCodeProviderUnavailable  = "provider_unavailable"
	TextCodeClaimsSyncFailure    = "claims_sync_failure"
	TextCodePrincipalNotFound    = "principal_not_found"
	TextCodeInvalidRole          = "invalid_role"
	TextCodeInvalidCredentials   = "invalid_credentials"
	TextCodeSignedOut            = "signed_out"
	TextCodeTokenExpired         = "token_expired"
	TextCodeTokenMalformed       = "token_malformed"
	TextCodeImmutableClaims      = "immutable_claim_mutation"
	TextCodeRoleResolutionFailed = "role_resolution_failed"
)

// ErrDuplicateProfile is returned when a signup email is already registered.
var ErrDuplicateProfile = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateProfile).
	WithCode(errors.CodeConflict)

// ErrElectionContention is returned when the signup serialization guard
// cannot be acquired before the caller's deadline. It is retried internally
// and only surfaces wrapped in a generic signup failure.
var ErrElectionContention = errors.New("signup serialization guard unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeElectionContention).
	WithCode(errors.CodeConflict)

// ErrPermissionDenied is returned for any authorization policy violation.
var ErrPermissionDenied = errors.New("permission denied", errors.CategoryAuthz).
	WithTextCode(TextCodePermissionDenied).
	WithCode(errors.CodeForbidden)

// ErrLastAdminViolation is the permission denial for role updates that would
// drop the admin/super_admin count to zero.
var ErrLastAdminViolation = errors.New("cannot remove last administrator", errors.CategoryAuthz).
	WithTextCode(TextCodeLastAdminViolation).
	WithCode(errors.CodeForbidden)

// ErrProviderUnavailable is returned when the production identity provider
// is unreachable. The demo strategy is never used as a fallback.
var ErrProviderUnavailable = errors.New("identity provider unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeProviderUnavailable).
	WithCode(errors.CodeInternal)

// ErrClaimsSyncFailure marks a non-fatal claims resolution failure; callers
// log it and fall back to the default claim set.
var ErrClaimsSyncFailure = errors.New("failed to resolve role for claims", errors.CategoryOperation).
	WithTextCode(TextCodeClaimsSyncFailure).
	WithCode(errors.CodeInternal)

// ErrPrincipalNotFound is returned when a principal lookup misses.
var ErrPrincipalNotFound = errors.New("principal not found", errors.CategoryNotFound).
	WithTextCode(TextCodePrincipalNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidRole is returned when a role value is outside the supported set.
var ErrInvalidRole = errors.New("unknown or invalid role", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(errors.CodeBadRequest)

// ErrInvalidCredentials is returned for a failed credential check.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrSignedOut is returned by session operations that need a signed-in principal.
var ErrSignedOut = errors.New("no signed-in principal", errors.CategoryAuth).
	WithTextCode(TextCodeSignedOut).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when a session token is past its expiry.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token cannot be parsed or verified.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrImmutableClaimMutation is returned when a claims hook touches identity claims.
var ErrImmutableClaimMutation = errors.New("immutable claim mutated", errors.CategoryInternal).
	WithTextCode(TextCodeImmutableClaims).
	WithCode(errors.CodeInternal)

// ErrRoleResolutionFailed is returned when the facade cannot resolve a
// principal's current role after a successful credential exchange.
var ErrRoleResolutionFailed = errors.New("could not resolve principal role", errors.CategoryOperation).
	WithTextCode(TextCodeRoleResolutionFailed).
	WithCode(errors.CodeInternal)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithTextCode("empty_password").
	WithCode(errors.CodeBadRequest)

// errWithMeta clones a shared error var before attaching call-site
// metadata so the var itself stays pristine.
func errWithMeta(base *errors.Error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	return clone.WithMetadata(meta)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

// IsDuplicateProfile checks for the duplicate signup error.
func IsDuplicateProfile(err error) bool {
	return hasTextCode(err, TextCodeDuplicateProfile)
}

// IsPermissionDenied checks for any policy denial, including last-admin violations.
func IsPermissionDenied(err error) bool {
	return hasTextCode(err, TextCodePermissionDenied) || IsLastAdminViolation(err)
}

// IsLastAdminViolation checks for the last-admin invariant denial.
func IsLastAdminViolation(err error) bool {
	return hasTextCode(err, TextCodeLastAdminViolation)
}

// IsClaimsSyncFailure checks for a degraded claims resolution.
func IsClaimsSyncFailure(err error) bool {
	return hasTextCode(err, TextCodeClaimsSyncFailure)
}

// IsProviderUnavailable checks for an unreachable identity provider.
func IsProviderUnavailable(err error) bool {
	return hasTextCode(err, TextCodeProviderUnavailable)
}

// IsPrincipalNotFound checks for a missing principal row.
func IsPrincipalNotFound(err error) bool {
	return hasTextCode(err, TextCodePrincipalNotFound)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return hasTextCode(err, TextCodeTokenExpired) ||
		strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return hasTextCode(err, TextCodeTokenMalformed) ||
		strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
