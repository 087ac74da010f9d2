package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"realmeal/internal/identity"
	"realmeal/internal/models"
	"realmeal/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 7 * 24 * time.Hour
	issuer     = "realmeal-api"

	sweepEvery = time.Minute
)

// knownIdentity is a signed-in identity remembered until its sessions could
// have expired.
type knownIdentity struct {
	id      *identity.Identity
	expires time.Time
}

// Claims are carried by every issued token.
type Claims struct {
	Anonymous bool `json:"anon"`
	jwt.RegisteredClaims
}

// Manager owns the process-wide session state: which identities are signed in
// and which tokens are live. It follows the identity provider's change
// notifications between Start and Close.
type Manager struct {
	provider identity.Provider
	store    Store
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	known       map[string]knownIdentity
	nextSweep   time.Time
	ready       bool
	unsubscribe func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a stopped manager. Call Start before authenticating.
func NewManager(provider identity.Provider, store Store, secret string, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		store:    store,
		secret:   []byte(secret),
		ttl:      DefaultTTL,
		now:      time.Now,
		known:    make(map[string]knownIdentity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to identity changes and marks the manager ready.
func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	m.unsubscribe = m.provider.Subscribe(m.handleChange)
	m.ready = true
	return nil
}

// Ready reports whether Start has completed and Close has not been called.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Close stops following identity changes and forgets signed-in identities.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.ready = false
	m.known = make(map[string]knownIdentity)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// TTL returns the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Current returns the signed-in identity with the given id, if this process knows it.
func (m *Manager) Current(identityID string) (*identity.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.known[identityID]
	if !ok || !m.now().Before(k.expires) {
		return nil, false
	}
	return k.id, true
}

// Issue signs a token for id and records its session.
func (m *Manager) Issue(ctx context.Context, id *identity.Identity) (string, error) {
	if !id.Authenticated() {
		return "", models.NewAuthError("Email address is not verified", identity.ErrEmailNotVerified)
	}

	now := m.now()
	rec := Record{
		JTI:        uuid.NewString(),
		IdentityID: id.ID,
		Anonymous:  id.IsAnonymous,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.ttl),
	}
	claims := Claims{
		Anonymous: id.IsAnonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ID:        rec.JTI,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", models.NewInternalError(err)
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return "", models.NewInternalError(err)
	}

	m.remember(id)
	return signed, nil
}

// Authenticate resolves a bearer token to its identity. Revoked sessions are
// rejected, and an unverified identity is signed out everywhere.
func (m *Manager) Authenticate(ctx context.Context, raw string) (*identity.Identity, error) {
	if !m.Ready() {
		return nil, models.NewUnauthorizedError("Session manager is not ready")
	}
	claims, err := m.parse(raw)
	if err != nil {
		return nil, models.NewUnauthorizedError("Invalid or expired token")
	}

	rec, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if rec == nil || rec.IdentityID != claims.Subject {
		return nil, models.NewUnauthorizedError("Session has been revoked")
	}

	id, err := m.resolve(ctx, claims.Subject)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewUnauthorizedError("Unknown identity")
		}
		return nil, err
	}
	if !id.Authenticated() {
		m.forceSignOut(ctx, id.ID)
		return nil, models.NewUnauthorizedError("Email address is not verified")
	}
	return id, nil
}

// Revoke ends the session behind token. Expired tokens can still be revoked.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	claims, err := m.parse(raw, jwt.WithoutClaimsValidation())
	if err != nil {
		return models.NewUnauthorizedError("Invalid token")
	}
	if err := m.store.Delete(ctx, claims.ID); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (m *Manager) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("incomplete token claims")
	}
	return claims, nil
}

func (m *Manager) resolve(ctx context.Context, identityID string) (*identity.Identity, error) {
	if id, ok := m.Current(identityID); ok {
		return id, nil
	}
	id, err := m.provider.Lookup(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if id.Authenticated() {
		m.remember(id)
	}
	return id, nil
}

func (m *Manager) remember(id *identity.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.known[id.ID] = knownIdentity{id: id, expires: now.Add(m.ttl)}
	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(sweepEvery)
	for key, k := range m.known {
		if !now.Before(k.expires) {
			delete(m.known, key)
		}
	}
}

func (m *Manager) forget(identityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.known, identityID)
}

func (m *Manager) forceSignOut(ctx context.Context, identityID string) {
	if err := m.provider.SignOut(ctx, identityID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "forced sign-out failed", "identity_id", identityID, "error", err)
	}
	m.dropSessions(ctx, identityID)
}

func (m *Manager) dropSessions(ctx context.Context, identityID string) {
	m.forget(identityID)
	if err := m.store.DeleteByIdentity(ctx, identityID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to drop sessions", "identity_id", identityID, "error", err)
	}
}

func (m *Manager) handleChange(c identity.Change) {
	if c.Identity == nil {
		return
	}
	ctx := context.Background()
	switch c.Kind {
	case identity.ChangeSignedIn, identity.ChangeVerified:
		if c.Identity.Authenticated() {
			m.remember(c.Identity)
			return
		}
		m.dropSessions(ctx, c.Identity.ID)
	case identity.ChangeSignedOut:
		m.dropSessions(ctx, c.Identity.ID)
	}
}
