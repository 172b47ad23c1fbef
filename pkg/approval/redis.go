package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "approval:"

// RedisStore keeps approval records in Redis so multiple control-plane
// instances see the same pending set. Expiry is enforced by key TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Store backed by Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, ttl: DefaultTTL}
}

// NewRedisStoreWithClient wraps an existing client, useful in tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: DefaultTTL}
}

// SetTTL overrides the record expiry window.
func (s *RedisStore) SetTTL(d time.Duration) {
	if d > 0 {
		s.ttl = d
	}
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal approval record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+rec.Fingerprint, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store approval record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch approval record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode approval record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("delete approval record: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	var out []*Record
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch approval record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode approval record: %w", err)
		}
		if rec.Consumed {
			continue
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan approval records: %w", err)
	}
	return out, nil
}
