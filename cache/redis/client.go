// Package redis backs the cache and pub/sub with a shared go-redis client.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisCache implements the KV and list subset of the cache over Redis.
type RedisCache struct {
	client *goredis.Client
}

// NewCache connects to Redis and verifies the connection with PING.
func NewCache(cfg Config) (*RedisCache, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *RedisCache) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.LPush(ctx, key, args...).Err()
}

func (r *RedisCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *RedisCache) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

// RedisMessage is the message type returned by RedisPubSub.Subscribe.
type RedisMessage struct {
	Channel string
	Payload string
}

// RedisPubSub wraps Redis PUBLISH / SUBSCRIBE.
type RedisPubSub struct {
	client *goredis.Client
}

// NewPubSub connects a dedicated client for pub/sub.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPubSub{client: client}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	ps := r.client.Subscribe(ctx, channels...)
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan *RedisMessage, 256)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			ch <- &RedisMessage{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	cancel := func() { _ = ps.Close() }
	return ch, cancel, nil
}

func (r *RedisPubSub) Close() error { return r.client.Close() }
