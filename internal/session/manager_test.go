package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"realmeal/internal/identity"
	"realmeal/internal/models"
	"realmeal/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

// MockProvider is a testify mock of identity.Provider that also fans out changes.
type MockProvider struct {
	mock.Mock
	mu        sync.Mutex
	listeners []identity.Listener
}

func (m *MockProvider) SignInAnonymous(ctx context.Context) (*identity.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockProvider) SignUp(ctx context.Context, email, password string) error {
	return m.Called(ctx, email, password).Error(0)
}

func (m *MockProvider) VerifyEmail(ctx context.Context, token string) (*identity.Identity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context, identityID string) error {
	err := m.Called(ctx, identityID).Error(0)
	if err == nil {
		m.emit(identity.Change{Kind: identity.ChangeSignedOut, Identity: &identity.Identity{ID: identityID}})
	}
	return err
}

func (m *MockProvider) Lookup(ctx context.Context, identityID string) (*identity.Identity, error) {
	args := m.Called(ctx, identityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Identity), args.Error(1)
}

func (m *MockProvider) Subscribe(l identity.Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners = nil
	}
}

func (m *MockProvider) emit(c identity.Change) {
	m.mu.Lock()
	ls := append([]identity.Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range ls {
		l(c)
	}
}

func (m *MockProvider) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func newStartedManager(t *testing.T, store Store, opts ...Option) (*Manager, *MockProvider) {
	t.Helper()
	provider := &MockProvider{}
	m := NewManager(provider, store, testSecret, opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m, provider
}

func TestManager_IssueAndAuthenticate(t *testing.T) {
	m, _ := newStartedManager(t, NewMemoryStore())
	ctx := context.Background()
	anon := &identity.Identity{ID: "anon-1", IsAnonymous: true}

	token, err := m.Issue(ctx, anon)
	require.NoError(t, err)

	got, err := m.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "anon-1", got.ID)

	current, ok := m.Current("anon-1")
	assert.True(t, ok)
	assert.Equal(t, anon, current)
}

func TestManager_TokenClaims(t *testing.T) {
	m, _ := newStartedManager(t, NewMemoryStore())

	token, err := m.Issue(context.Background(), &identity.Identity{ID: "anon-1", IsAnonymous: true})
	require.NoError(t, err)

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "anon-1", claims.Subject)
	assert.True(t, claims.Anonymous)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestManager_IssueRejectsUnverified(t *testing.T) {
	m, _ := newStartedManager(t, NewMemoryStore())

	_, err := m.Issue(context.Background(), &identity.Identity{ID: "u1", Email: "u1@example.com"})
	require.Error(t, err)
	assert.Equal(t, models.CodeAuth, models.ErrorCode(err))
}

func TestManager_AuthenticateRejectsBadTokens(t *testing.T) {
	m, _ := newStartedManager(t, NewMemoryStore())
	ctx := context.Background()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ID: "j", Issuer: issuer},
	}).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	unknownSession, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			ID:        "never-issued",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":         "not-a-token",
		"wrong secret":    forged,
		"unknown session": unknownSession,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Authenticate(ctx, token)
			require.Error(t, err)
			assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))
		})
	}
}

func TestManager_ExpiredToken(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m, _ := newStartedManager(t, NewMemoryStore(), WithClock(clock), WithTTL(time.Hour))
	ctx := context.Background()

	token, err := m.Issue(ctx, &identity.Identity{ID: "anon-1", IsAnonymous: true})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = m.Authenticate(ctx, token)
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))

	assert.NoError(t, m.Revoke(ctx, token))
}

func TestManager_Revoke(t *testing.T) {
	m, _ := newStartedManager(t, NewMemoryStore())
	ctx := context.Background()
	id := &identity.Identity{ID: "anon-1", IsAnonymous: true}

	first, err := m.Issue(ctx, id)
	require.NoError(t, err)
	second, err := m.Issue(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, first))

	_, err = m.Authenticate(ctx, first)
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))
	_, err = m.Authenticate(ctx, second)
	assert.NoError(t, err)

	assert.Error(t, m.Revoke(ctx, "garbage"))
}

func TestManager_SignedOutChangeDropsAllSessions(t *testing.T) {
	m, provider := newStartedManager(t, NewMemoryStore())
	ctx := context.Background()
	id := &identity.Identity{ID: "anon-1", IsAnonymous: true}

	token, err := m.Issue(ctx, id)
	require.NoError(t, err)

	provider.On("SignOut", mock.Anything, "anon-1").Return(nil)
	require.NoError(t, provider.SignOut(ctx, "anon-1"))

	_, ok := m.Current("anon-1")
	assert.False(t, ok)
	_, err = m.Authenticate(ctx, token)
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))
}

func TestManager_UnverifiedIdentityIsForcedOut(t *testing.T) {
	m, provider := newStartedManager(t, NewMemoryStore())
	ctx := context.Background()

	// Issued while verified, then the stored identity reports unverified.
	verified := &identity.Identity{ID: "u1", Email: "u1@example.com", EmailVerified: true}
	token, err := m.Issue(ctx, verified)
	require.NoError(t, err)
	m.forget("u1")

	provider.On("Lookup", mock.Anything, "u1").
		Return(&identity.Identity{ID: "u1", Email: "u1@example.com"}, nil)
	provider.On("SignOut", mock.Anything, "u1").Return(nil).Once()

	_, err = m.Authenticate(ctx, token)
	require.Error(t, err)
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))
	provider.AssertExpectations(t)

	_, err = m.Authenticate(ctx, token)
	assert.Contains(t, err.Error(), "revoked")
}

func TestManager_LifecycleAndReady(t *testing.T) {
	provider := &MockProvider{}
	m := NewManager(provider, NewMemoryStore(), testSecret)
	ctx := context.Background()

	assert.False(t, m.Ready())
	_, err := m.Authenticate(ctx, "anything")
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.Ready())
	assert.Equal(t, 1, provider.subscribers())

	provider.emit(identity.Change{Kind: identity.ChangeSignedIn, Identity: &identity.Identity{ID: "a", IsAnonymous: true}})
	_, ok := m.Current("a")
	assert.True(t, ok)

	m.Close()
	assert.False(t, m.Ready())
	assert.Equal(t, 0, provider.subscribers())
	_, ok = m.Current("a")
	assert.False(t, ok)
}

func TestManager_LookupCachesVerifiedIdentity(t *testing.T) {
	m, provider := newStartedManager(t, NewMemoryStore())
	ctx := context.Background()
	id := &identity.Identity{ID: "u2", Email: "u2@example.com", EmailVerified: true}

	token, err := m.Issue(ctx, id)
	require.NoError(t, err)
	m.forget("u2")

	provider.On("Lookup", mock.Anything, "u2").Return(id, nil).Once()
	for i := 0; i < 3; i++ {
		got, err := m.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "u2", got.ID)
	}
	provider.AssertExpectations(t)
}

func TestManager_ForgetsIdentitiesAfterSessionLifetime(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m, _ := newStartedManager(t, NewMemoryStore(), WithClock(clock), WithTTL(time.Hour))
	ctx := context.Background()

	for _, id := range []string{"anon-1", "anon-2", "anon-3"} {
		_, err := m.Issue(ctx, &identity.Identity{ID: id, IsAnonymous: true})
		require.NoError(t, err)
	}
	_, ok := m.Current("anon-2")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = m.Current("anon-2")
	assert.False(t, ok)

	_, err := m.Issue(ctx, &identity.Identity{ID: "anon-4", IsAnonymous: true})
	require.NoError(t, err)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.known, 1)
	assert.Contains(t, m.known, "anon-4")
}

func TestRedisStore_RoundTripAndDeleteByIdentity(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	store := NewRedisStore(rdb)
	ctx := context.Background()
	now := time.Now()

	for _, jti := range []string{"j1", "j2"} {
		require.NoError(t, store.Save(ctx, Record{JTI: jti, IdentityID: "u1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	}
	require.NoError(t, store.Save(ctx, Record{JTI: "j3", IdentityID: "u2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	rec, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.IdentityID)

	require.NoError(t, store.DeleteByIdentity(ctx, "u1"))
	rec, err = store.Get(ctx, "j2")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.Get(ctx, "j3")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	mr.FastForward(2 * time.Hour)
	rec, err = store.Get(ctx, "j3")
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.Error(t, store.Save(ctx, Record{JTI: "old", IdentityID: "u1", ExpiresAt: now.Add(-time.Minute)}))
}

func TestManager_WithRedisStore(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	m, _ := newStartedManager(t, NewRedisStore(rdb))
	ctx := context.Background()

	token, err := m.Issue(ctx, &identity.Identity{ID: "anon-9", IsAnonymous: true})
	require.NoError(t, err)
	_, err = m.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, token))
	_, err = m.Authenticate(ctx, token)
	assert.Equal(t, models.CodeUnauthorized, models.ErrorCode(err))
}
