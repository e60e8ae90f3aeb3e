package identity

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/rudijetson/prompt-stack-sub001/middleware/jwtware"
)

// ContextEnricherAdapter adapts jwtware.AuthClaims to the package's
// AuthClaims and stores them in the standard context for downstream use.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

type jwtwareValidator struct {
	validator TokenValidator
}

func (a jwtwareValidator) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := a.validator.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// AsMiddlewareValidator adapts a TokenValidator for jwtware configuration.
func AsMiddlewareValidator(v TokenValidator) jwtware.TokenValidator {
	return jwtwareValidator{validator: v}
}

// ProtectedRoute builds the JWT middleware for routes that need a signed-in
// principal. An empty minimumRole only requires a valid token.
func ProtectedRoute(cfg Config, validator TokenValidator, minimumRole Role, errorHandler router.ErrorHandler) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler: errorHandler,
		SigningKey: jwtware.SigningKey{
			Key:    []byte(cfg.GetSigningKey()),
			JWTAlg: "HS256",
		},
		TokenValidator:  AsMiddlewareValidator(validator),
		MinimumRole:     string(minimumRole),
		ContextEnricher: ContextEnricherAdapter,
	})
}

// AdminRoute builds the JWT middleware for administrator-only routes.
func AdminRoute(cfg Config, validator TokenValidator, errorHandler router.ErrorHandler) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler: errorHandler,
		SigningKey: jwtware.SigningKey{
			Key:    []byte(cfg.GetSigningKey()),
			JWTAlg: "HS256",
		},
		TokenValidator:  AsMiddlewareValidator(validator),
		AdminOnly:       true,
		ContextEnricher: ContextEnricherAdapter,
	})
}
