package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *redisStore) Save(ctx context.Context, key string, cp Checkpoint) error {
	if key == "" {
		return ErrInvalidKey
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	val, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, val, s.ttl).Err()
}

func (s *redisStore) Load(ctx context.Context, key string) (*Checkpoint, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{}
	if err := json.Unmarshal(val, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
