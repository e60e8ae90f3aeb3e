package identity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// Keys into the demo state store. The session key is a fixed marker: only
// one demo session exists at a time.
const (
	demoSessionKey  = "identity.demo.session"
	demoAccountsKey = "identity.demo.accounts"
)

// StateStore is the persisted key-value storage the demo strategy keeps its
// state in. Implementations must be safe for concurrent use.
type StateStore interface {
	Load(key string) ([]byte, bool, error)
	Save(key string, value []byte) error
	Delete(key string) error
}

// FileStateStore persists state as a single JSON document on disk.
type FileStateStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStateStore creates a file-backed state store at the given path.
// The file is created on first save.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

func (s *FileStateStore) Load(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, false, err
	}

	raw, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *FileStateStore) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	doc[key] = value
	return s.write(doc)
}

func (s *FileStateStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	delete(doc, key)
	return s.write(doc)
}

func (s *FileStateStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to read state file")
	}

	doc := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to parse state file")
		}
	}
	return doc, nil
}

func (s *FileStateStore) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode state file")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CategoryOperation, "failed to create state dir")
		}
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to write state file")
	}
	return nil
}

// MemoryStateStore keeps state in memory. Used when no state path is
// configured and in tests.
type MemoryStateStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{data: map[string][]byte{}}
}

func (s *MemoryStateStore) Load(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, true, nil
}

func (s *MemoryStateStore) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *MemoryStateStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type demoAccount struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	PasswordHash string `json:"password_hash"`
	Role         Role   `json:"role"`
}

// DemoSessionFacade runs without an external identity provider. Any
// syntactically valid email signs in when the password meets the minimum
// length; credentials and the active session live in the local state store,
// never in the principals store. Role is always user unless seeded.
type DemoSessionFacade struct {
	mu         sync.Mutex
	states     StateStore
	session    *PrincipalSession
	notifier   *principalNotifier
	sink       ActivitySink
	minPassLen int
	logger     Logger
}

// NewDemoSessionFacade builds the demo strategy from configuration. A
// previously persisted session is restored so the demo survives restarts.
func NewDemoSessionFacade(cfg Config, deps FacadeDeps) (*DemoSessionFacade, error) {
	_, logger := ResolveLogger("identity.session.demo", nil, deps.Logger)

	states := deps.States
	if states == nil {
		if path := cfg.GetDemoStatePath(); path != "" {
			states = NewFileStateStore(path)
		} else {
			states = NewMemoryStateStore()
		}
	}

	f := &DemoSessionFacade{
		states:     states,
		notifier:   newPrincipalNotifier(),
		sink:       normalizeActivitySink(deps.Sink),
		minPassLen: cfg.GetMinPasswordLength(),
		logger:     logger,
	}

	if err := f.restoreSession(); err != nil {
		logger.Warn("could not restore persisted demo session: %v", err)
	}

	return f, nil
}

// SeedAccount registers a demo account with an explicit role. This is the
// only way a demo principal gets a role other than user.
func (f *DemoSessionFacade) SeedAccount(email, password string, role Role) error {
	if err := validateDemoCredentials(email, password, f.minPassLen); err != nil {
		return err
	}
	if !role.IsValid() {
		return ErrInvalidRole
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	account, err := f.newAccount(email, password, role)
	if err != nil {
		return err
	}
	return f.saveAccount(account)
}

func (f *DemoSessionFacade) SignIn(ctx context.Context, email, password string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "sign in canceled")
	}
	if err := validateDemoCredentials(email, password, f.minPassLen); err != nil {
		emitActivity(ctx, f.sink, f.logger, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Metadata:  map[string]any{"email": normalizeEmail(email), "mode": "demo"},
		})
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	account, found, err := f.loadAccount(email)
	if err != nil {
		return nil, err
	}

	if found {
		// Sandbox semantics: any valid-length password signs in, the
		// most recent one wins. Role and id stay with the account.
		if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
			hash, err := HashPassword(password)
			if err != nil {
				return nil, err
			}
			account.PasswordHash = hash
			if err := f.saveAccount(account); err != nil {
				return nil, err
			}
		}
	} else {
		// Unknown emails sign in on first use, like a throwaway sandbox.
		account, err = f.newAccount(email, password, RoleUser)
		if err != nil {
			return nil, err
		}
		if err := f.saveAccount(account); err != nil {
			return nil, err
		}
	}

	principal := account.principal()
	if err := f.commitSession(&PrincipalSession{Principal: principal}); err != nil {
		return nil, err
	}

	emitActivity(ctx, f.sink, f.logger, ActivityEvent{
		EventType:   ActivityEventSignInSuccess,
		PrincipalID: principal.ID.String(),
		Metadata:    map[string]any{"mode": "demo"},
	})

	f.notifier.notify(principal.Snapshot())
	return principal.Snapshot(), nil
}

func (f *DemoSessionFacade) SignUp(ctx context.Context, email, password string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "sign up canceled")
	}
	if err := validateDemoCredentials(email, password, f.minPassLen); err != nil {
		emitActivity(ctx, f.sink, f.logger, ActivityEvent{
			EventType: ActivityEventSignUpFailure,
			Metadata:  map[string]any{"email": normalizeEmail(email), "mode": "demo"},
		})
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, found, err := f.loadAccount(email); err != nil {
		return nil, err
	} else if found {
		return nil, ErrDuplicateProfile
	}

	account, err := f.newAccount(email, password, RoleUser)
	if err != nil {
		return nil, err
	}
	if err := f.saveAccount(account); err != nil {
		return nil, err
	}

	principal := account.principal()
	if err := f.commitSession(&PrincipalSession{Principal: principal}); err != nil {
		return nil, err
	}

	emitActivity(ctx, f.sink, f.logger, ActivityEvent{
		EventType:   ActivityEventSignUpSuccess,
		PrincipalID: principal.ID.String(),
		Metadata:    map[string]any{"mode": "demo"},
	})

	f.notifier.notify(principal.Snapshot())
	return principal.Snapshot(), nil
}

func (f *DemoSessionFacade) SignOut(ctx context.Context) error {
	f.mu.Lock()
	hadSession := f.session != nil
	var principalID string
	if hadSession && f.session.Principal != nil {
		principalID = f.session.Principal.ID.String()
	}
	f.session = nil
	err := f.states.Delete(demoSessionKey)
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if !hadSession {
		return nil
	}

	emitActivity(ctx, f.sink, f.logger, ActivityEvent{
		EventType:   ActivityEventSignOut,
		PrincipalID: principalID,
		Metadata:    map[string]any{"mode": "demo"},
	})

	f.notifier.notify(nil)
	return nil
}

func (f *DemoSessionFacade) CurrentPrincipal() (*Principal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil || f.session.Principal == nil {
		return nil, false
	}
	return f.session.Principal.Snapshot(), true
}

func (f *DemoSessionFacade) OnPrincipalChange(fn func(*Principal)) func() {
	return f.notifier.subscribe(fn)
}

func (f *DemoSessionFacade) newAccount(email, password string, role Role) (demoAccount, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return demoAccount{}, err
	}

	normalized := normalizeEmail(email)
	id := uuid.NewString()
	if hid, err := hashid.NewUUID(normalized); err == nil {
		id = hid.String()
	}

	return demoAccount{
		ID:           id,
		Email:        normalized,
		PasswordHash: hash,
		Role:         role,
	}, nil
}

func (a demoAccount) principal() *Principal {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		id = uuid.New()
	}
	now := time.Now()
	return &Principal{
		ID:          id,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
}

func (f *DemoSessionFacade) loadAccount(email string) (demoAccount, bool, error) {
	accounts, err := f.loadAccounts()
	if err != nil {
		return demoAccount{}, false, err
	}
	account, ok := accounts[normalizeEmail(email)]
	return account, ok, nil
}

func (f *DemoSessionFacade) saveAccount(account demoAccount) error {
	accounts, err := f.loadAccounts()
	if err != nil {
		return err
	}
	accounts[account.Email] = account

	raw, err := json.Marshal(accounts)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode demo accounts")
	}
	return f.states.Save(demoAccountsKey, raw)
}

func (f *DemoSessionFacade) loadAccounts() (map[string]demoAccount, error) {
	raw, found, err := f.states.Load(demoAccountsKey)
	if err != nil {
		return nil, err
	}

	accounts := map[string]demoAccount{}
	if found {
		if err := json.Unmarshal(raw, &accounts); err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to decode demo accounts")
		}
	}
	return accounts, nil
}

func (f *DemoSessionFacade) commitSession(session *PrincipalSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode session")
	}
	if err := f.states.Save(demoSessionKey, raw); err != nil {
		return err
	}
	f.session = session
	return nil
}

func (f *DemoSessionFacade) restoreSession() error {
	raw, found, err := f.states.Load(demoSessionKey)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	session := &PrincipalSession{}
	if err := json.Unmarshal(raw, session); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to decode persisted session")
	}
	if session.Principal == nil {
		return nil
	}

	session.Principal.EnsureRole()
	f.session = session
	return nil
}

func validateDemoCredentials(email, password string, minLen int) error {
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}

	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid email").
			WithTextCode(TextCodeInvalidCredentials).
			WithCode(errors.CodeBadRequest)
	}

	if len(password) < minLen {
		return errors.New("password below minimum length", errors.CategoryValidation).
			WithTextCode(TextCodeInvalidCredentials).
			WithCode(errors.CodeBadRequest).
			WithMetadata(map[string]any{"min_length": minLen})
	}

	return nil
}
