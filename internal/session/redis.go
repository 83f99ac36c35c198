package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "session:cred:"

// RedisStore keeps credentials in Redis with a TTL matching the credential
// expiry, so storage hygiene falls out of the key lifetime. Serialization of
// issue/consume per identity remains the Authority's job; the store is state
// only.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Put(ctx context.Context, cred Credential) error {
	ttl := cred.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// Already expired; keeping it would only resurrect a dead credential.
		return s.Delete(ctx, cred.Identity)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+cred.Identity, data, ttl).Err(); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, identityID string) (Credential, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+identityID).Result()
	if errors.Is(err, redis.Nil) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("load credential: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return Credential{}, false, fmt.Errorf("decode credential: %w", err)
	}
	return cred, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, identityID string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+identityID).Err(); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
