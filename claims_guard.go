package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The decoration hook exists to stamp the role pair (user_role, is_admin)
// and metadata onto a token at mint time. Everything that identifies the
// token or its holder is frozen before the hook runs and verified after,
// so a misbehaving augmenter cannot reissue the token as someone else.
type frozenClaims map[string]string

var frozenClaimNames = []string{"sub", "iss", "uid", "aud", "jti", "iat", "exp"}

func freezeIdentityClaims(claims *JWTClaims) frozenClaims {
	return identityClaimFields(claims)
}

func (f frozenClaims) verify(claims *JWTClaims) error {
	current := identityClaimFields(claims)
	for _, name := range frozenClaimNames {
		if current[name] != f[name] {
			return frozenClaimMutated(name)
		}
	}
	return nil
}

// identityClaimFields renders each frozen claim into a canonical string so
// verification is a plain comparison. Audience entries never contain the
// unit separator, and an absent timestamp is distinct from any set one.
func identityClaimFields(claims *JWTClaims) frozenClaims {
	reg := claims.RegisteredClaims
	return frozenClaims{
		"sub": reg.Subject,
		"iss": reg.Issuer,
		"uid": claims.UID,
		"aud": strings.Join(reg.Audience, "\x1f"),
		"jti": reg.ID,
		"iat": timestampKey(reg.IssuedAt),
		"exp": timestampKey(reg.ExpiresAt),
	}
}

func timestampKey(date *jwt.NumericDate) string {
	if date == nil {
		return ""
	}
	return "@" + date.Time.UTC().Format(time.RFC3339Nano)
}

func frozenClaimMutated(field string) error {
	clone := ErrImmutableClaimMutation.Clone()
	if clone == nil {
		return ErrImmutableClaimMutation
	}
	clone.Message = fmt.Sprintf("token decorator rewrote the %s claim", field)
	clone.Source = ErrImmutableClaimMutation
	return clone.WithMetadata(map[string]any{"claim": field})
}
