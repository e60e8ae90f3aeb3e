package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProductionFacade(t *testing.T, repo *fakeRepoManager, exchanger TokenExchanger) *ProductionSessionFacade {
	t.Helper()
	facade, err := NewProductionSessionFacade(StaticConfig{AuthMode: AuthModeProduction}, FacadeDeps{
		Principals: repo.Principals(),
		Election:   NewRoleElection(repo),
		Exchanger:  exchanger,
	})
	require.NoError(t, err)
	return facade
}

func exchangeFor(p *Principal) *fakeExchanger {
	return &fakeExchanger{result: &ExchangeResult{
		PrincipalID: p.ID.String(),
		Email:       p.Email,
		Token:       "provider-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
}

func TestProductionFacade_SignInResolvesRoleFromStore(t *testing.T) {
	admin := testPrincipal("admin@example.com", RoleAdmin)
	repo := newFakeRepoManager(admin)
	facade := newProductionFacade(t, repo, exchangeFor(admin))

	principal, err := facade.SignIn(context.Background(), admin.Email, "hunter2!")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, principal.Role)

	current, ok := facade.CurrentPrincipal()
	require.True(t, ok)
	assert.Equal(t, admin.ID, current.ID)
}

func TestProductionFacade_ResolutionFailureFailsSignIn(t *testing.T) {
	// Credentials succeed at the provider but the store has no row.
	ghost := testPrincipal("ghost@example.com", RoleAdmin)
	repo := newFakeRepoManager()
	sink := &recordingSink{}

	facade, err := NewProductionSessionFacade(StaticConfig{}, FacadeDeps{
		Principals: repo.Principals(),
		Election:   NewRoleElection(repo),
		Exchanger:  exchangeFor(ghost),
		Sink:       sink,
	})
	require.NoError(t, err)

	_, err = facade.SignIn(context.Background(), ghost.Email, "hunter2!")
	require.Error(t, err)
	assert.True(t, hasTextCode(err, TextCodeRoleResolutionFailed))

	// Nothing is cached; a default role would mask the failure.
	_, ok := facade.CurrentPrincipal()
	assert.False(t, ok)

	failures := sink.byType(ActivityEventSignInFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "resolution", failures[0].Metadata["stage"])
}

func TestProductionFacade_StoreOutageFailsSignIn(t *testing.T) {
	admin := testPrincipal("admin@example.com", RoleAdmin)
	repo := newFakeRepoManager(admin)
	repo.principals.getErr = assert.AnError
	facade := newProductionFacade(t, repo, exchangeFor(admin))

	_, err := facade.SignIn(context.Background(), admin.Email, "hunter2!")
	require.Error(t, err)
	assert.True(t, hasTextCode(err, TextCodeRoleResolutionFailed))

	_, ok := facade.CurrentPrincipal()
	assert.False(t, ok)
}

func TestProductionFacade_ExchangeFailurePropagates(t *testing.T) {
	repo := newFakeRepoManager()
	facade := newProductionFacade(t, repo, &fakeExchanger{err: ErrInvalidCredentials})

	_, err := facade.SignIn(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, hasTextCode(err, TextCodeInvalidCredentials))
}

func TestProductionFacade_SignInFallsBackToEmailLookup(t *testing.T) {
	// The provider knows the principal under its own id; lookup falls back
	// to the email.
	user := testPrincipal("user@example.com", RoleUser)
	repo := newFakeRepoManager(user)

	exchanger := &fakeExchanger{result: &ExchangeResult{
		PrincipalID: "provider-opaque-id",
		Email:       user.Email,
		Token:       "provider-token",
	}}
	facade := newProductionFacade(t, repo, exchanger)

	principal, err := facade.SignIn(context.Background(), user.Email, "hunter2!")
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.ID)
}

func TestProductionFacade_SignUpRegistersThenSignsIn(t *testing.T) {
	repo := newFakeRepoManager()

	exchanger := &fakeExchanger{result: &ExchangeResult{
		Email: "first@example.com",
		Token: "provider-token",
	}}
	facade := newProductionFacade(t, repo, exchanger)

	principal, err := facade.SignUp(context.Background(), "first@example.com", "hunter2!")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, principal.Role, "first signup wins the admin election")

	current, ok := facade.CurrentPrincipal()
	require.True(t, ok)
	assert.Equal(t, principal.ID, current.ID)
}

func TestProductionFacade_SignOutRevokesAndNotifies(t *testing.T) {
	user := testPrincipal("user@example.com", RoleUser)
	repo := newFakeRepoManager(user)
	exchanger := exchangeFor(user)
	facade := newProductionFacade(t, repo, exchanger)

	var notified []*Principal
	unsubscribe := facade.OnPrincipalChange(func(p *Principal) {
		notified = append(notified, p)
	})
	defer unsubscribe()

	_, err := facade.SignIn(context.Background(), user.Email, "hunter2!")
	require.NoError(t, err)

	require.NoError(t, facade.SignOut(context.Background()))

	_, ok := facade.CurrentPrincipal()
	assert.False(t, ok)
	assert.Equal(t, []string{"provider-token"}, exchanger.revoked)

	require.Len(t, notified, 2)
	assert.Nil(t, notified[1])
}

func TestProductionFacade_ExpiredSessionIsDropped(t *testing.T) {
	user := testPrincipal("user@example.com", RoleUser)
	repo := newFakeRepoManager(user)

	exchanger := &fakeExchanger{result: &ExchangeResult{
		PrincipalID: user.ID.String(),
		Email:       user.Email,
		Token:       "provider-token",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}}
	facade := newProductionFacade(t, repo, exchanger)

	_, err := facade.SignIn(context.Background(), user.Email, "hunter2!")
	require.NoError(t, err)

	_, ok := facade.CurrentPrincipal()
	assert.False(t, ok)
}

func TestProductionFacade_RefreshPicksUpRoleChange(t *testing.T) {
	user := testPrincipal("user@example.com", RoleUser)
	repo := newFakeRepoManager(user)
	facade := newProductionFacade(t, repo, exchangeFor(user))

	_, err := facade.SignIn(context.Background(), user.Email, "hunter2!")
	require.NoError(t, err)

	var notified []*Principal
	unsubscribe := facade.OnPrincipalChange(func(p *Principal) {
		notified = append(notified, p)
	})
	defer unsubscribe()

	// No change yet, so no notification.
	require.NoError(t, facade.Refresh(context.Background()))
	assert.Empty(t, notified)

	_, err = repo.Principals().UpdateRoleTx(context.Background(), nil, user.ID, RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, facade.Refresh(context.Background()))
	require.Len(t, notified, 1)
	assert.Equal(t, RoleAdmin, notified[0].Role)

	current, ok := facade.CurrentPrincipal()
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, current.Role)
}

func TestProductionFacade_RefreshWithoutSession(t *testing.T) {
	repo := newFakeRepoManager()
	facade := newProductionFacade(t, repo, &fakeExchanger{})

	err := facade.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, hasTextCode(err, TextCodeSignedOut))
}

func TestProductionFacade_RefreshDeletedPrincipalClearsSession(t *testing.T) {
	user := testPrincipal("user@example.com", RoleUser)
	repo := newFakeRepoManager(user)
	facade := newProductionFacade(t, repo, exchangeFor(user))

	_, err := facade.SignIn(context.Background(), user.Email, "hunter2!")
	require.NoError(t, err)

	require.NoError(t, repo.Principals().Delete(context.Background(), user.ID))

	err = facade.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsPrincipalNotFound(err))

	_, ok := facade.CurrentPrincipal()
	assert.False(t, ok)
}

func TestProductionFacade_RoleChangeListener(t *testing.T) {
	admin := testPrincipal("admin@example.com", RoleAdmin)
	user := testPrincipal("user@example.com", RoleUser)
	repo := newFakeRepoManager(admin, user)
	facade := newProductionFacade(t, repo, exchangeFor(user))

	_, err := facade.SignIn(context.Background(), user.Email, "hunter2!")
	require.NoError(t, err)

	policy := NewPolicy(repo.Principals())
	dir := NewDirectory(repo, policy, NewAuditLog(repo.RoleAudits())).
		WithActivitySink(facade.RoleChangeListener())

	_, err = dir.ChangeRole(context.Background(), admin, user.ID, RoleAdmin, "promotion")
	require.NoError(t, err)

	current, ok := facade.CurrentPrincipal()
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, current.Role)

	t.Run("other principals' role changes are ignored", func(t *testing.T) {
		bystander := testPrincipal("bystander@example.com", RoleUser)
		_, err := repo.Principals().Create(context.Background(), bystander)
		require.NoError(t, err)

		before, _ := facade.CurrentPrincipal()
		_, err = dir.ChangeRole(context.Background(), admin, bystander.ID, RoleSuperAdmin, "")
		require.NoError(t, err)

		after, ok := facade.CurrentPrincipal()
		require.True(t, ok)
		assert.Equal(t, before.Role, after.Role)
	})
}

func TestProductionFacade_RequiresCollaborators(t *testing.T) {
	repo := newFakeRepoManager()

	_, err := NewProductionSessionFacade(StaticConfig{}, FacadeDeps{
		Election:  NewRoleElection(repo),
		Exchanger: &fakeExchanger{},
	})
	assert.Error(t, err)

	_, err = NewProductionSessionFacade(StaticConfig{}, FacadeDeps{
		Principals: repo.Principals(),
		Exchanger:  &fakeExchanger{},
	})
	assert.Error(t, err)

	// No exchanger and no endpoint to build one from.
	_, err = NewProductionSessionFacade(StaticConfig{}, FacadeDeps{
		Principals: repo.Principals(),
		Election:   NewRoleElection(repo),
	})
	assert.Error(t, err)
}
