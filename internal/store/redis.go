package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crowdmagic/platebot/internal/session"
)

// Redis key layout. The collecting marker is a secondary key from user
// id to session id, kept on the same TTL as the session itself so the
// one-collecting-session-per-user check is a single lookup instead of a
// scan.
const (
	sessionKeyPrefix    = "platebot:session:"
	collectingKeyPrefix = "platebot:collecting:"
)

// RedisStore implements Store on a shared Redis instance, for
// multi-instance deployments that do not run on AWS.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. A zero ttl uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(id string) string        { return sessionKeyPrefix + id }
func collectingKey(userID string) string { return collectingKeyPrefix + userID }

func (r *RedisStore) Create(ctx context.Context, s *session.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*session.Session, error) {
	payload, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var s session.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s *session.Session) error {
	s.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	// SET XX: only update records that still exist, so an expired
	// session cannot be resurrected by a late writer.
	ok, err := r.client.SetXX(ctx, sessionKey(s.ID), payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if !ok {
		return fmt.Errorf("session %s does not exist", s.ID)
	}

	// Keep the collecting marker in sync with the state.
	if s.State == session.StateCollectingReferences {
		if err := r.client.Set(ctx, collectingKey(s.UserID), s.ID, r.ttl).Err(); err != nil {
			return fmt.Errorf("mark collecting session for user %s: %w", s.UserID, err)
		}
	} else {
		current, err := r.client.Get(ctx, collectingKey(s.UserID)).Result()
		if err == nil && current == s.ID {
			if err := r.client.Del(ctx, collectingKey(s.UserID)).Err(); err != nil {
				return fmt.Errorf("clear collecting marker for user %s: %w", s.UserID, err)
			}
		}
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if s != nil && s.State == session.StateCollectingReferences {
		current, err := r.client.Get(ctx, collectingKey(s.UserID)).Result()
		if err == nil && current == id {
			_ = r.client.Del(ctx, collectingKey(s.UserID)).Err()
		}
	}
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) FindCollecting(ctx context.Context, userID string) (*session.Session, error) {
	id, err := r.client.Get(ctx, collectingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find collecting session for user %s: %w", userID, err)
	}
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil || s.State != session.StateCollectingReferences {
		// Stale marker: the session moved on or expired.
		_ = r.client.Del(ctx, collectingKey(userID)).Err()
		return nil, nil
	}
	return s, nil
}
