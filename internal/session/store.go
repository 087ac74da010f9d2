// Package session tracks signed-in identities and the bearer tokens issued to them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"realmeal/internal/cache"

	"github.com/redis/go-redis/v9"
)

// Record is the server-side half of an issued token.
type Record struct {
	JTI        string    `json:"jti"`
	IdentityID string    `json:"identity_id"`
	Anonymous  bool      `json:"anonymous"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store persists session records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	// Get returns (nil, nil) for unknown or expired sessions.
	Get(ctx context.Context, jti string) (*Record, error)
	Delete(ctx context.Context, jti string) error
	DeleteByIdentity(ctx context.Context, identityID string) error
}

// RedisStore keeps sessions in Redis so every replica sees revocations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cache.SessionKey(rec.JTI), b, ttl)
		pipe.SAdd(ctx, cache.IdentitySessionsKey(rec.IdentityID), rec.JTI)
		pipe.Expire(ctx, cache.IdentitySessionsKey(rec.IdentityID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jti string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, cache.SessionKey(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, jti string) error {
	return s.rdb.Del(ctx, cache.SessionKey(jti)).Err()
}

func (s *RedisStore) DeleteByIdentity(ctx context.Context, identityID string) error {
	setKey := cache.IdentitySessionsKey(identityID)
	jtis, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	keys := make([]string, 0, len(jtis)+1)
	for _, jti := range jtis {
		keys = append(keys, cache.SessionKey(jti))
	}
	keys = append(keys, setKey)
	return s.rdb.Del(ctx, keys...).Err()
}

// MemoryStore keeps sessions in process. Used when Redis is not configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Record
	now      func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.JTI] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jti string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[jti]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(rec.ExpiresAt) {
		delete(s.sessions, jti)
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, jti)
	return nil
}

func (s *MemoryStore) DeleteByIdentity(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, rec := range s.sessions {
		if rec.IdentityID == identityID {
			delete(s.sessions, jti)
		}
	}
	return nil
}
