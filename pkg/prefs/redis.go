package prefs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
)

// redisCmdable is the subset of *redis.Client the store uses.
type redisCmdable interface {
	Get(key string) *redis.StringCmd
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps preferences in redis.
type RedisStore struct {
	cmd func(ctx context.Context) redisCmdable
}

// Dial connects to redis and verifies the connection.
func Dial(addr, password string, db int) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rc.Ping().Result(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return rc, nil
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{cmd: func(ctx context.Context) redisCmdable {
		return client.WithContext(ctx)
	}}
}

func newRedisStore(c redisCmdable) *RedisStore {
	return &RedisStore{cmd: func(context.Context) redisCmdable { return c }}
}

func (s *RedisStore) GetString(ctx context.Context, key, def string) (string, error) {
	v, err := s.cmd(ctx).Get(key).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) SetString(ctx context.Context, key, value string) error {
	if err := s.cmd(ctx).Set(key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := s.GetString(ctx, key, strconv.FormatBool(def))
	if err != nil {
		return def, err
	}
	return parseBool(v, def), nil
}

func (s *RedisStore) SetBool(ctx context.Context, key string, value bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(value))
}
