package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/pkg/redisx"
)

// RedisRepository implements Repository with one JSON string per session and
// a set indexing all session ids. Stopped sessions expire after stoppedTTL.
type RedisRepository struct {
	client     *redisx.Client
	indexKey   string
	stoppedTTL time.Duration
}

// NewRedisRepository creates a Redis-backed session repository. A zero
// stoppedTTL keeps stopped sessions forever.
func NewRedisRepository(client *redisx.Client, stoppedTTL time.Duration) *RedisRepository {
	return &RedisRepository{
		client:     client,
		indexKey:   client.Key("idx", "sessions"),
		stoppedTTL: stoppedTTL,
	}
}

func (r *RedisRepository) sessionKey(id shared.ID) string {
	return r.client.Key("session", id.String())
}

func (r *RedisRepository) ttlFor(s *Session) time.Duration {
	if s.IsRunning() {
		return 0
	}
	return r.stoppedTTL
}

// Insert stores a new session
func (r *RedisRepository) Insert(ctx context.Context, s *Session) error {
	if s == nil || s.ID.IsEmpty() {
		return shared.ErrInvalidInput("session with id is required")
	}
	key := r.sessionKey(s.ID)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return shared.ErrAlreadyExists("session")
		}

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to serialize session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttlFor(s))
			pipe.SAdd(ctx, r.indexKey, s.ID.String())
			return nil
		})
		return err
	}, key)
}

// FindOneAndUpdate applies callback under optimistic locking
func (r *RedisRepository) FindOneAndUpdate(ctx context.Context, id shared.ID, callback func(*Session) (*Session, error)) error {
	key := r.sessionKey(id)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return shared.ErrNotFound("session")
		}
		if err != nil {
			return err
		}

		current := &Session{}
		if err := json.Unmarshal(data, current); err != nil {
			return fmt.Errorf("failed to deserialize session: %w", err)
		}

		updated, err := callback(current)
		if err != nil {
			return err
		}
		if updated == nil {
			return nil
		}

		out, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to serialize session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttlFor(updated))
			return nil
		})
		return err
	}, key)
}

// GetByID retrieves a session
func (r *RedisRepository) GetByID(ctx context.Context, id shared.ID) (*Session, error) {
	s := &Session{}
	err := redisx.GetJSON(ctx, r.client, r.sessionKey(id), s)
	if errors.Is(err, redisx.ErrNotFound) {
		return nil, shared.ErrNotFound("session")
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetAll retrieves every indexed session. Ids whose key has expired are
// pruned from the index.
func (r *RedisRepository) GetAll(ctx context.Context) ([]*Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}

	var (
		sessions []*Session
		expired  []any
	)
	for _, id := range ids {
		s, err := r.GetByID(ctx, shared.ID(id))
		if shared.IsKind(err, shared.KindNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			continue // Skip malformed entries
		}
		sessions = append(sessions, s)
	}

	if len(expired) > 0 {
		_ = r.client.SRem(ctx, r.indexKey, expired...).Err()
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

// Delete removes a session and its index entry
func (r *RedisRepository) Delete(ctx context.Context, id shared.ID) error {
	key := r.sessionKey(id)

	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if err := r.client.SRem(ctx, r.indexKey, id.String()).Err(); err != nil {
		return err
	}
	if removed == 0 {
		return shared.ErrNotFound("session")
	}
	return nil
}
