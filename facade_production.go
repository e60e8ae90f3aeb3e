package identity

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ProductionSessionFacade delegates credential verification to the external
// identity provider, then resolves the principal's current role from the
// principals store. The provider's role claims are never trusted: role
// comes from the store on every sign-in and every refresh. A credential
// success followed by a resolution failure is a sign-in failure and caches
// nothing.
type ProductionSessionFacade struct {
	mu         sync.Mutex
	principals Principals
	election   *RoleElection
	exchanger  TokenExchanger
	session    *PrincipalSession
	notifier   *principalNotifier
	sink       ActivitySink
	logger     Logger
}

// NewProductionSessionFacade builds the production strategy. Principals,
// Election, and Exchanger are mandatory collaborators.
func NewProductionSessionFacade(cfg Config, deps FacadeDeps) (*ProductionSessionFacade, error) {
	_, logger := ResolveLogger("identity.session.production", nil, deps.Logger)

	if deps.Principals == nil {
		return nil, errors.New("principals store is required", errors.CategoryBadInput)
	}
	if deps.Election == nil {
		return nil, errors.New("role election is required", errors.CategoryBadInput)
	}

	exchanger := deps.Exchanger
	if exchanger == nil {
		if cfg.GetExchangeEndpoint() == "" {
			return nil, errors.New("token exchanger or exchange endpoint is required", errors.CategoryBadInput)
		}
		exchanger = NewHTTPTokenExchanger(cfg.GetExchangeEndpoint(), nil, logger)
	}

	return &ProductionSessionFacade{
		principals: deps.Principals,
		election:   deps.Election,
		exchanger:  exchanger,
		notifier:   newPrincipalNotifier(),
		sink:       normalizeActivitySink(deps.Sink),
		logger:     logger,
	}, nil
}

func (f *ProductionSessionFacade) SignIn(ctx context.Context, email, password string) (*Principal, error) {
	result, err := f.exchanger.Exchange(ctx, email, password)
	if err != nil {
		emitActivity(ctx, f.sink, f.logger, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Metadata:  map[string]any{"email": normalizeEmail(email), "mode": "production"},
		})
		return nil, err
	}

	principal, err := f.resolvePrincipal(ctx, result)
	if err != nil {
		// Credentials checked out but the role could not be resolved.
		// Caching the default role here would mask a store outage, so the
		// whole sign-in fails and no session state is kept.
		f.logger.Error("role resolution failed after credential exchange: %v", err)
		emitActivity(ctx, f.sink, f.logger, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Metadata:  map[string]any{"email": normalizeEmail(email), "mode": "production", "stage": "resolution"},
		})
		return nil, roleResolutionFailure(err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "sign in canceled")
	}

	session := &PrincipalSession{
		Principal: principal,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
	}

	f.mu.Lock()
	f.session = session
	f.mu.Unlock()

	emitActivity(ctx, f.sink, f.logger, ActivityEvent{
		EventType:   ActivityEventSignInSuccess,
		PrincipalID: principal.ID.String(),
		Metadata:    map[string]any{"mode": "production"},
	})

	f.notifier.notify(principal.Snapshot())
	return principal.Snapshot(), nil
}

func (f *ProductionSessionFacade) SignUp(ctx context.Context, email, password string) (*Principal, error) {
	if _, err := f.election.Register(ctx, email, ""); err != nil {
		emitActivity(ctx, f.sink, f.logger, ActivityEvent{
			EventType: ActivityEventSignUpFailure,
			Metadata:  map[string]any{"email": normalizeEmail(email), "mode": "production"},
		})
		return nil, err
	}

	emitActivity(ctx, f.sink, f.logger, ActivityEvent{
		EventType: ActivityEventSignUpSuccess,
		Metadata:  map[string]any{"email": normalizeEmail(email), "mode": "production"},
	})

	return f.SignIn(ctx, email, password)
}

func (f *ProductionSessionFacade) SignOut(ctx context.Context) error {
	f.mu.Lock()
	session := f.session
	f.session = nil
	f.mu.Unlock()

	if session == nil {
		return nil
	}

	if session.Token != "" {
		if err := f.exchanger.Revoke(ctx, session.Token); err != nil {
			// Local state is already cleared; the provider session will
			// lapse at token expiry.
			f.logger.Warn("provider token revocation failed: %v", err)
		}
	}

	var principalID string
	if session.Principal != nil {
		principalID = session.Principal.ID.String()
	}
	emitActivity(ctx, f.sink, f.logger, ActivityEvent{
		EventType:   ActivityEventSignOut,
		PrincipalID: principalID,
		Metadata:    map[string]any{"mode": "production"},
	})

	f.notifier.notify(nil)
	return nil
}

func (f *ProductionSessionFacade) CurrentPrincipal() (*Principal, bool) {
	f.mu.Lock()
	session := f.session
	if session != nil && session.Expired(time.Now()) {
		f.session = nil
		session = nil
		f.mu.Unlock()
		f.notifier.notify(nil)
		return nil, false
	}
	f.mu.Unlock()

	if session == nil || session.Principal == nil {
		return nil, false
	}
	return session.Principal.Snapshot(), true
}

func (f *ProductionSessionFacade) OnPrincipalChange(fn func(*Principal)) func() {
	return f.notifier.subscribe(fn)
}

// Refresh re-resolves the signed-in principal's role from the store and
// updates the cached snapshot. It is a role refresh, not a state
// transition: listeners fire only when the role actually changed.
func (f *ProductionSessionFacade) Refresh(ctx context.Context) error {
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()

	if session == nil || session.Principal == nil {
		return ErrSignedOut
	}

	current, err := f.principals.Get(ctx, session.Principal.ID)
	if err != nil {
		if IsPrincipalNotFound(err) {
			// Row deleted out from under the session.
			f.mu.Lock()
			f.session = nil
			f.mu.Unlock()
			f.notifier.notify(nil)
			return err
		}
		return roleResolutionFailure(err)
	}

	f.mu.Lock()
	changed := f.session != nil && f.session.Principal != nil &&
		f.session.Principal.Role != current.Role
	if f.session != nil {
		f.session.Principal = current.Snapshot()
	}
	f.mu.Unlock()

	if changed {
		f.notifier.notify(current.Snapshot())
	}
	return nil
}

// RoleChangeListener returns an activity sink that refreshes the cached
// role when a role-change event lands for the signed-in principal. Wire it
// into the Directory's activity sink so sessions observe admin-driven role
// changes.
func (f *ProductionSessionFacade) RoleChangeListener() ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		if event.EventType != ActivityEventRoleChanged {
			return nil
		}

		f.mu.Lock()
		relevant := f.session != nil && f.session.Principal != nil &&
			f.session.Principal.ID.String() == event.PrincipalID
		f.mu.Unlock()

		if !relevant {
			return nil
		}
		return f.Refresh(ctx)
	})
}

// resolvePrincipal loads the store row for an exchange result, trying the
// provider-supplied id first and falling back to the email.
func (f *ProductionSessionFacade) resolvePrincipal(ctx context.Context, result *ExchangeResult) (*Principal, error) {
	if id, err := uuid.Parse(result.PrincipalID); err == nil {
		principal, err := f.principals.Get(ctx, id)
		if err == nil {
			return principal, nil
		}
		if !IsPrincipalNotFound(err) {
			return nil, err
		}
	}

	if result.Email != "" {
		return f.principals.GetByEmail(ctx, result.Email)
	}

	return nil, ErrPrincipalNotFound
}

func roleResolutionFailure(cause error) error {
	clone := ErrRoleResolutionFailed.Clone()
	if clone == nil {
		return ErrRoleResolutionFailed
	}
	clone.Source = cause
	return clone
}
