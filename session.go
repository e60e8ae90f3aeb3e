package identity

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// PrincipalSession is the facade-owned session state: the signed-in
// principal snapshot plus, in production mode, the provider token and its
// expiry.
type PrincipalSession struct {
	Principal *Principal `json:"principal"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
}

// Expired reports whether the session token is past its expiry. Sessions
// without an expiry never expire locally.
func (s *PrincipalSession) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.ExpiresAt)
}

// SessionFacade is the single authentication surface the rest of the
// application consumes. Two strategies implement it: a demo strategy with
// locally persisted state and a production strategy backed by an external
// identity provider.
type SessionFacade interface {
	SignIn(ctx context.Context, email, password string) (*Principal, error)
	SignUp(ctx context.Context, email, password string) (*Principal, error)
	SignOut(ctx context.Context) error
	CurrentPrincipal() (*Principal, bool)
	OnPrincipalChange(fn func(*Principal)) func()
}

// FacadeDeps carries the collaborators a facade strategy may need. Demo
// mode uses only States; production mode requires Principals, Election,
// and Exchanger.
type FacadeDeps struct {
	Principals Principals
	Election   *RoleElection
	Exchanger  TokenExchanger
	States     StateStore
	Sink       ActivitySink
	Logger     Logger
}

// NewSessionFacade selects the session strategy from configuration. The
// choice is made once at startup; strategies are never mixed and the demo
// strategy is never used as a production fallback.
func NewSessionFacade(cfg Config, deps FacadeDeps) (SessionFacade, error) {
	if cfg == nil {
		return nil, errors.New("config is required", errors.CategoryBadInput)
	}

	switch cfg.GetAuthMode() {
	case AuthModeDemo:
		return NewDemoSessionFacade(cfg, deps)
	case AuthModeProduction:
		return NewProductionSessionFacade(cfg, deps)
	default:
		return nil, errors.New("unknown auth mode", errors.CategoryBadInput).
			WithMetadata(map[string]any{"mode": string(cfg.GetAuthMode())})
	}
}

// principalNotifier fans out principal-change notifications to registered
// listeners. Listeners fire on sign-in, sign-out (nil principal), and
// cached-role refresh.
type principalNotifier struct {
	mu        sync.Mutex
	next      int
	listeners map[int]func(*Principal)
}

func newPrincipalNotifier() *principalNotifier {
	return &principalNotifier{listeners: map[int]func(*Principal){}}
}

func (n *principalNotifier) subscribe(fn func(*Principal)) func() {
	if fn == nil {
		return func() {}
	}

	n.mu.Lock()
	id := n.next
	n.next++
	n.listeners[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *principalNotifier) notify(principal *Principal) {
	n.mu.Lock()
	fns := make([]func(*Principal), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(principal)
	}
}
