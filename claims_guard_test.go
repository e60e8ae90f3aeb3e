package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardedClaims() *JWTClaims {
	now := time.Now()
	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "11111111-2222-3333-4444-555555555555",
			Issuer:    "identity",
			Audience:  jwt.ClaimStrings{"identity"},
			ID:        "token-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UID:      "11111111-2222-3333-4444-555555555555",
		UserRole: string(RoleUser),
	}
}

func TestFrozenClaims_RolePairStaysWritable(t *testing.T) {
	claims := guardedClaims()
	frozen := freezeIdentityClaims(claims)

	claims.UserRole = string(RoleAdmin)
	claims.Admin = true
	claims.Metadata = map[string]any{"is_admin": true}

	assert.NoError(t, frozen.verify(claims))
}

func TestFrozenClaims_IdentityFieldsAreFrozen(t *testing.T) {
	cases := map[string]func(*JWTClaims){
		"sub": func(c *JWTClaims) { c.RegisteredClaims.Subject = "someone-else" },
		"iss": func(c *JWTClaims) { c.RegisteredClaims.Issuer = "other" },
		"uid": func(c *JWTClaims) { c.UID = "someone-else" },
		"aud": func(c *JWTClaims) { c.RegisteredClaims.Audience = append(c.RegisteredClaims.Audience, "extra") },
		"jti": func(c *JWTClaims) { c.RegisteredClaims.ID = "token-2" },
		"iat": func(c *JWTClaims) { c.RegisteredClaims.IssuedAt = nil },
		"exp": func(c *JWTClaims) {
			c.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(c.RegisteredClaims.ExpiresAt.Add(time.Minute))
		},
	}

	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			claims := guardedClaims()
			frozen := freezeIdentityClaims(claims)

			mutate(claims)

			err := frozen.verify(claims)
			require.Error(t, err)
			assert.True(t, hasTextCode(err, TextCodeImmutableClaims))

			var rich *errors.Error
			require.True(t, errors.As(err, &rich))
			assert.Equal(t, field, rich.Metadata["claim"])
		})
	}
}
