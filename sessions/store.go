package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "session:"
	DefaultTTL = 24 * time.Hour
)

// Identity is the minimal authenticated-user state a session carries.
type Identity struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

// Store holds session state between requests. Implementations must treat an
// unknown or expired ID as absent, not as an error.
type Store interface {
	Create(ctx context.Context, id Identity) (string, error)
	Get(ctx context.Context, sessionID string) (Identity, bool)
	Delete(ctx context.Context, sessionID string) error
}

// RedisStore keeps sessions in Redis under "session:<id>" with a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, id Identity) (string, error) {
	sessionID, err := newSessionID()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, keyPrefix+sessionID, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("session create: %w", err)
	}
	return sessionID, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Identity, bool) {
	raw, err := s.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		return Identity{}, false
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false
	}
	if id.AccountID == "" {
		return Identity{}, false
	}
	return id, true
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, keyPrefix+sessionID).Err()
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}
