package credstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Persistent [Storage] in redis, shared between processes. A small local TinyLFU cache sits in front of redis for repeated reads of the same key.
//
// Entries are written without a redis-level TTL unless MaxTTL is set; [Store] envelopes carry the real expiry.
type RedisStorage struct {
	Client *redis.Client
	Data   *cache.Cache
	Prefix string
	MaxTTL time.Duration
}

var _ Storage = (*RedisStorage)(nil)

// redisURL is parsed with [redis.ParseURL]. The connection is checked before returning.
func NewRedisStorage(redisURL, prefix string, maxTTL time.Duration) (*RedisStorage, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(1_000, 10*time.Second),
	})
	if prefix == "" {
		prefix = "uauth/"
	}
	return &RedisStorage{
		Client: rdb,
		Data:   data,
		Prefix: prefix,
		MaxTTL: maxTTL,
	}, nil
}

func (s *RedisStorage) key(k string) string {
	return s.Prefix + k
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.Data.Get(ctx, s.key(key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStorage) Set(ctx context.Context, key, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   s.key(key),
		Value: val,
		TTL:   s.MaxTTL,
	})
}

func (s *RedisStorage) Delete(ctx context.Context, key string) (bool, error) {
	existed := s.Data.Exists(ctx, s.key(key))
	err := s.Data.Delete(ctx, s.key(key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *RedisStorage) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Data.Delete(ctx, s.key(k)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.Client.Scan(ctx, 0, s.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
