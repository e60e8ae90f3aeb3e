package identity

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// ElectionMaxAttempts bounds internal retries when the serialization guard
// or the signup transaction hits contention.
var ElectionMaxAttempts = 3

// ElectionRetryBackoff is the base delay between signup retries.
var ElectionRetryBackoff = 25 * time.Millisecond

// RoleElection decides the role assigned to a newly created principal.
// Principal creation is serialized through a single guard so the
// first-user-becomes-admin election has exactly one winner under
// concurrent signups.
type RoleElection struct {
	repo        RepositoryManager
	allowlist   map[string]struct{}
	guard       chan struct{}
	maxAttempts int
	backoff     time.Duration
	useHashID   bool
	logger      Logger
	provider    LoggerProvider
}

// ElectionOption customizes the election service.
type ElectionOption func(*RoleElection)

// WithAdminAllowList registers emails promoted to admin at signup.
func WithAdminAllowList(emails []string) ElectionOption {
	return func(e *RoleElection) {
		for _, email := range emails {
			email = normalizeEmail(email)
			if email != "" {
				e.allowlist[email] = struct{}{}
			}
		}
	}
}

// WithElectionRetry overrides the retry bound and backoff.
func WithElectionRetry(attempts int, backoff time.Duration) ElectionOption {
	return func(e *RoleElection) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithDeterministicIDs derives principal IDs from the signup email.
func WithDeterministicIDs() ElectionOption {
	return func(e *RoleElection) {
		e.useHashID = true
	}
}

// WithElectionLogger overrides the logger.
func WithElectionLogger(l Logger) ElectionOption {
	return func(e *RoleElection) {
		e.provider, e.logger = ResolveLogger("identity.election", e.provider, l)
	}
}

// NewRoleElection creates the election service over the repository manager.
func NewRoleElection(repo RepositoryManager, opts ...ElectionOption) *RoleElection {
	provider, logger := ResolveLogger("identity.election", nil, nil)
	e := &RoleElection{
		repo:        repo,
		allowlist:   map[string]struct{}{},
		guard:       make(chan struct{}, 1),
		maxAttempts: ElectionMaxAttempts,
		backoff:     ElectionRetryBackoff,
		logger:      logger,
		provider:    provider,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	return e
}

// Elect decides the role for a new principal inside the signup transaction:
// the first principal ever created becomes admin, everyone after is a user.
// Allow-listed emails are promoted to admin as an additional, idempotent
// step that never re-triggers the first-admin election.
func (e *RoleElection) Elect(ctx context.Context, tx bun.IDB, email string) (Role, error) {
	count, err := e.repo.Principals().CountTx(ctx, tx)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count principals during election")
	}

	role := RoleUser
	if count == 0 {
		role = RoleAdmin
	}

	if e.isAllowListed(email) && !role.IsAdmin() {
		role = RoleAdmin
	}

	return role, nil
}

// Register runs the full signup path: acquire the serialization guard,
// open the transaction, elect, and create. Either the principal commits
// fully or nothing is observable.
func (e *RoleElection) Register(ctx context.Context, email, displayName string) (*Principal, error) {
	email = normalizeEmail(email)
	if err := validateSignupEmail(email); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		principal, err := e.registerOnce(ctx, email, displayName)
		if err == nil {
			return principal, nil
		}

		if !isRetryableSignup(err) {
			return nil, err
		}

		lastErr = err
		e.logger.Warn("signup contention, retrying", "email", email, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, signupFailure(ctx.Err())
		case <-time.After(e.backoff * time.Duration(attempt)):
		}
	}

	// Contention is never surfaced as a distinct user-facing error.
	return nil, signupFailure(lastErr)
}

func (e *RoleElection) registerOnce(ctx context.Context, email, displayName string) (*Principal, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	principal := &Principal{}

	err := e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if existing, err := e.repo.Principals().GetByEmailTx(ctx, tx, email); err == nil && existing != nil {
			return errWithMeta(ErrDuplicateProfile, map[string]any{"email": email})
		} else if err != nil && !IsPrincipalNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing principal")
		}

		role, err := e.Elect(ctx, tx, email)
		if err != nil {
			return err
		}

		principal.Email = email
		principal.DisplayName = displayName
		principal.Role = role

		if e.useHashID {
			if id, err := hashid.NewUUID(email); err == nil {
				principal.ID = id
			}
		}

		if principal, err = e.repo.Principals().CreateTx(ctx, tx, principal); err != nil {
			if isUniqueViolation(err) {
				return errWithMeta(ErrDuplicateProfile, map[string]any{"email": email})
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create principal")
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return principal, nil
}

func (e *RoleElection) isAllowListed(email string) bool {
	_, ok := e.allowlist[normalizeEmail(email)]
	return ok
}

// acquire takes the signup serialization guard, honoring the caller's
// deadline. A timeout here means the guard could not be acquired and the
// signup fails atomically.
func (e *RoleElection) acquire(ctx context.Context) error {
	select {
	case e.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errWithMeta(ErrElectionContention, map[string]any{
			"cause": ctx.Err().Error(),
		})
	}
}

func (e *RoleElection) release() {
	<-e.guard
}

func validateSignupEmail(email string) error {
	err := validation.Validate(email,
		validation.Required,
		is.Email,
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid signup email").
			WithTextCode("invalid_email")
	}
	return nil
}

func isRetryableSignup(err error) bool {
	if err == nil {
		return false
	}

	if hasTextCode(err, TextCodeElectionContention) {
		return true
	}

	// sqlite reports writer contention as a busy/locked database.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "serialization failure")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func signupFailure(cause error) error {
	err := goerrors.New("signup failed", goerrors.CategoryOperation).
		WithTextCode("signup_failed").
		WithCode(goerrors.CodeConflict)
	if cause != nil {
		err = err.WithMetadata(map[string]any{"cause": cause.Error()})
	}
	return err
}
