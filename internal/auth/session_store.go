package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisSessionStore keeps sessions in redis with a TTL matching their
// expiry.
type RedisSessionStore struct {
	client *redis.Client
}

type RedisSessionStoreDependencies struct {
	Client *redis.Client
}

func NewRedisSessionStore(deps RedisSessionStoreDependencies) *RedisSessionStore {
	return &RedisSessionStore{
		client: deps.Client,
	}
}

func (s *RedisSessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session expiry is in the past")
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+session.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

func (s *RedisSessionStore) GetSession(ctx context.Context, token string) (domain.Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to fetch session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return domain.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return session, nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// MemorySessionStore backs local development and tests when no redis is
// configured.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]domain.Session),
	}
}

func (s *MemorySessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.Token] = session

	return nil
}

func (s *MemorySessionStore) GetSession(ctx context.Context, token string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok || time.Now().After(session.ExpiresAt) {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	return session, nil
}

func (s *MemorySessionStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)

	return nil
}
