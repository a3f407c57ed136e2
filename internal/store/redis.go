package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chainwatch/internal/chain"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps samples in one sorted set per target, scored by the
// sample time in milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to url (redis://...). Keys expire after ttl without
// writes so abandoned targets do not linger; zero disables expiry.
func NewRedisStore(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "chainwatch"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) key(target string) string {
	return s.prefix + ":samples:" + target
}

func (s *RedisStore) Append(ctx context.Context, target string, sample chain.VolumeSample) error {
	blob, err := encodeSample(sample)
	if err != nil {
		return err
	}
	key := s.key(target)
	ms := sample.TakenAt.UnixMilli()
	score := strconv.FormatInt(ms, 10)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// one member per timestamp
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: blob})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write sample to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, target string, since time.Time) ([]chain.VolumeSample, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key(target), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read samples from redis: %w", err)
	}
	out := make([]chain.VolumeSample, 0, len(members))
	for _, m := range members {
		sample, err := decodeSample([]byte(m))
		if err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (s *RedisStore) Prune(ctx context.Context, target string, before time.Time) error {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, s.key(target), "-inf", max).Err(); err != nil {
		return fmt.Errorf("failed to prune samples: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
