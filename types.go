package identity

import (
	"context"
	"fmt"
	"time"
)

// Logger is the minimal logging surface used across the package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LoggerProvider hands out named loggers so services can share one backend.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// ResolveLogger resolves a (provider, logger) pair, falling back to the
// package default logger when neither is configured. Services call it once
// at construction and again from their With* overrides.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger != nil {
		return provider, logger
	}

	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return provider, l
		}
	}

	return provider, defLogger{}
}

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Email() string
	Role() string
}

// AuthClaims represents structured token claims with role-derived fields
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	IsAdmin() bool
	IsAtLeast(minRole string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// TokenService mints and validates locally signed session tokens
type TokenService interface {
	Generate(ctx context.Context, identity Identity) (string, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// AuthMode selects the session facade strategy at startup.
type AuthMode string

const (
	// AuthModeDemo runs without an external identity provider
	AuthModeDemo AuthMode = "demo"
	// AuthModeProduction delegates credential checks to the provider
	AuthModeProduction AuthMode = "production"
)

// Config holds identity core options
type Config interface {
	GetAuthMode() AuthMode
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetAdminAllowList() []string
	GetExchangeEndpoint() string
	GetProviderJWKSURL() string
	GetDemoStatePath() string
	GetMinPasswordLength() int
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
