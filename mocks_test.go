package identity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// fakePrincipals is an in-memory Principals store. Tx arguments are
// ignored; transactional behavior is simulated by fakeRepoManager through
// state snapshots.
type fakePrincipals struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Principal

	countErr      error
	adminCountErr error
	createErr     error
	getErr        error
	updateRoleErr error
}

func newFakePrincipals(seed ...*Principal) *fakePrincipals {
	f := &fakePrincipals{records: map[uuid.UUID]*Principal{}}
	for _, p := range seed {
		f.records[p.ID] = p.Snapshot()
	}
	return f
}

func (f *fakePrincipals) snapshot() map[uuid.UUID]*Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*Principal, len(f.records))
	for id, p := range f.records {
		out[id] = p.Snapshot()
	}
	return out
}

func (f *fakePrincipals) restore(state map[uuid.UUID]*Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = state
}

func (f *fakePrincipals) Get(ctx context.Context, id uuid.UUID) (*Principal, error) {
	return f.GetTx(ctx, nil, id)
}

func (f *fakePrincipals) GetTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.records[id]
	if !ok {
		return nil, principalNotFound(map[string]any{"id": id.String()})
	}
	return p.Snapshot(), nil
}

func (f *fakePrincipals) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	return f.GetByEmailTx(ctx, nil, email)
}

func (f *fakePrincipals) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = normalizeEmail(email)
	for _, p := range f.records {
		if p.Email == email {
			return p.Snapshot(), nil
		}
	}
	return nil, principalNotFound(map[string]any{"email": email})
}

func (f *fakePrincipals) List(ctx context.Context) ([]*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Principal, 0, len(f.records))
	for _, p := range f.records {
		out = append(out, p.Snapshot())
	}
	return out, nil
}

func (f *fakePrincipals) Count(ctx context.Context) (int, error) {
	return f.CountTx(ctx, nil)
}

func (f *fakePrincipals) CountTx(ctx context.Context, tx bun.IDB) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.records), nil
}

func (f *fakePrincipals) CountAdmins(ctx context.Context) (int, error) {
	return f.CountAdminsTx(ctx, nil)
}

func (f *fakePrincipals) CountAdminsTx(ctx context.Context, tx bun.IDB) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adminCountErr != nil {
		return 0, f.adminCountErr
	}
	count := 0
	for _, p := range f.records {
		if p.Role.IsAdmin() {
			count++
		}
	}
	return count, nil
}

func (f *fakePrincipals) Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	return f.CreateTx(ctx, nil, record, criteria...)
}

func (f *fakePrincipals) CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	preparePrincipalDefaults(record)
	for _, p := range f.records {
		if p.Email == record.Email {
			return nil, errWithMeta(ErrDuplicateProfile, map[string]any{"email": record.Email})
		}
	}

	f.records[record.ID] = record.Snapshot()
	return record, nil
}

func (f *fakePrincipals) UpdateProfileTx(ctx context.Context, tx bun.IDB, record *Principal) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.records[record.ID]
	if !ok {
		return nil, principalNotFound(map[string]any{"id": record.ID.String()})
	}
	for id, p := range f.records {
		if id != record.ID && p.Email == record.Email {
			return nil, fmt.Errorf("UNIQUE constraint failed: principals.email")
		}
	}
	existing.DisplayName = record.DisplayName
	existing.Email = record.Email
	return existing.Snapshot(), nil
}

func (f *fakePrincipals) UpdateRoleTx(ctx context.Context, tx bun.IDB, id uuid.UUID, role Role) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateRoleErr != nil {
		return nil, f.updateRoleErr
	}
	if !role.IsValid() {
		return nil, errWithMeta(ErrInvalidRole, map[string]any{"role": role})
	}
	existing, ok := f.records[id]
	if !ok {
		return nil, principalNotFound(map[string]any{"id": id.String()})
	}
	existing.Role = role
	return existing.Snapshot(), nil
}

func (f *fakePrincipals) Delete(ctx context.Context, id uuid.UUID) error {
	return f.DeleteTx(ctx, nil, id)
}

func (f *fakePrincipals) DeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return principalNotFound(map[string]any{"id": id.String()})
	}
	delete(f.records, id)
	return nil
}

var _ Principals = (*fakePrincipals)(nil)

// fakeAudits is an in-memory append-only audit store.
type fakeAudits struct {
	mu        sync.Mutex
	records   []*RoleAuditRecord
	recordErr error
}

func newFakeAudits() *fakeAudits {
	return &fakeAudits{}
}

func (f *fakeAudits) snapshot() []*RoleAuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*RoleAuditRecord(nil), f.records...)
}

func (f *fakeAudits) restore(state []*RoleAuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = state
}

func (f *fakeAudits) RecordTx(ctx context.Context, tx bun.IDB, record *RoleAuditRecord) (*RoleAuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
	f.records = append(f.records, record)
	return record, nil
}

func (f *fakeAudits) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]*RoleAuditRecord, error) {
	return f.ListBySubjectTx(ctx, nil, subjectID)
}

func (f *fakeAudits) ListBySubjectTx(ctx context.Context, tx bun.IDB, subjectID uuid.UUID) ([]*RoleAuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*RoleAuditRecord
	for _, r := range f.records {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAudits) List(ctx context.Context) ([]*RoleAuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*RoleAuditRecord(nil), f.records...), nil
}

var _ RoleAudits = (*fakeAudits)(nil)

// fakeRepoManager simulates transactions over the in-memory stores: state
// is snapshot before the callback and restored when it errors, so a failed
// audit insert rolls back the role write like a real transaction would.
type fakeRepoManager struct {
	principals *fakePrincipals
	audits     *fakeAudits
}

func newFakeRepoManager(seed ...*Principal) *fakeRepoManager {
	return &fakeRepoManager{
		principals: newFakePrincipals(seed...),
		audits:     newFakeAudits(),
	}
}

func (m *fakeRepoManager) Validate() error { return nil }
func (m *fakeRepoManager) MustValidate()   {}

func (m *fakeRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ps := m.principals.snapshot()
	as := m.audits.snapshot()

	if err := f(ctx, bun.Tx{}); err != nil {
		m.principals.restore(ps)
		m.audits.restore(as)
		return err
	}
	return nil
}

func (m *fakeRepoManager) Principals() Principals { return m.principals }
func (m *fakeRepoManager) RoleAudits() RoleAudits { return m.audits }

var _ RepositoryManager = (*fakeRepoManager)(nil)

// fakeExchanger implements TokenExchanger for facade tests.
type fakeExchanger struct {
	mu      sync.Mutex
	result  *ExchangeResult
	err     error
	revoked []string
}

func (f *fakeExchanger) Exchange(ctx context.Context, email, password string) (*ExchangeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeExchanger) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return nil
}

var _ TokenExchanger = (*fakeExchanger)(nil)

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byType(t ActivityEventType) []ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ActivityEvent
	for _, e := range s.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

var _ ActivitySink = (*recordingSink)(nil)

func testPrincipal(email string, role Role) *Principal {
	now := time.Now()
	return &Principal{
		ID:        uuid.New(),
		Email:     email,
		Role:      role,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
}
