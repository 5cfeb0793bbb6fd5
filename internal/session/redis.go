package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 10

var ErrConflict = errors.New("session update conflict")

// RedisStore shares sessions between bot instances. Updates use optimistic
// WATCH/MULTI transactions on the session key.
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

func keySession(id int64) string { return fmt.Sprintf("session:%d", id) }

func (s *RedisStore) Get(ctx context.Context, id int64) (State, error) {
	return s.read(ctx, s.rdb, keySession(id))
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, key string) (State, error) {
	var st State
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to get session: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt value is treated as an empty session and overwritten.
		return State{}, nil
	}
	return st, nil
}

func (s *RedisStore) Update(ctx context.Context, id int64, fn func(*State)) (State, error) {
	key := keySession(id)
	var out State
	txf := func(tx *redis.Tx) error {
		st, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		fn(&st)
		st.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, s.ttl)
			return nil
		})
		if err == nil {
			out = st
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, err
	}
	return State{}, ErrConflict
}

func (s *RedisStore) Clear(ctx context.Context, id int64) error {
	if err := s.rdb.Del(ctx, keySession(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
