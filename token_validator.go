package identity

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenValidator validates tokens and extracts claims without tying callers
// to a specific signing implementation.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(tokenString)
}

// MultiTokenValidator tries validators in order until one succeeds.
// It treats ErrTokenMalformed as "try next" and returns the last malformed
// error if all validators fail.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	filtered := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

// Validate satisfies the TokenValidator interface.
func (m *MultiTokenValidator) Validate(tokenString string) (AuthClaims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		if IsMalformedError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenMalformed
}

// NewConfiguredValidator assembles the validator chain from configuration:
// locally minted tokens first, then provider tokens when a JWKS URL is set.
func NewConfiguredValidator(cfg Config, local TokenValidator, logger Logger) (TokenValidator, error) {
	if url := cfg.GetProviderJWKSURL(); url != "" {
		provider, err := NewJWKSValidator(url, logger)
		if err != nil {
			return nil, err
		}
		return NewMultiTokenValidator(local, provider), nil
	}

	if local == nil {
		return nil, errors.New("token validation requires a local validator or a provider JWKS URL", errors.CategoryBadInput)
	}
	return local, nil
}

// JWKSValidator validates provider-issued tokens against a remote JWK set.
// It refreshes keys in the background so key rotation does not require a
// restart.
type JWKSValidator struct {
	jwks   *keyfunc.JWKS
	logger Logger
}

// NewJWKSValidator fetches the JWK set from the given URL and returns a
// validator backed by it.
func NewJWKSValidator(jwksURL string, logger Logger) (*JWKSValidator, error) {
	if logger == nil {
		logger = defLogger{}
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("JWKS background refresh failed: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to fetch JWK set").
			WithTextCode(TextCodeProviderUnavailable)
	}

	return &JWKSValidator{jwks: jwks, logger: logger}, nil
}

// Validate satisfies the TokenValidator interface.
func (v *JWKSValidator) Validate(tokenString string) (AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, v.jwks.Keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	v.logger.Error("JWKS validator could not decode claims")
	return nil, ErrTokenMalformed
}

// Shutdown stops the background JWK refresh goroutine.
func (v *JWKSValidator) Shutdown() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
