// Package cache selects between an in-process store and Redis for the
// stream session keys and the recent bus event history.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/eventvm/cache/local"
	cacheredis "github.com/kasuganosora/eventvm/cache/redis"
)

// Cache defines the KV and list operations used by the server.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	Close() error
}

// IsNotFound reports whether err means a missing key on either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
	Close() error
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

func (cfg CacheConfig) redis() cacheredis.Config {
	return cacheredis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(cfg.redis())
	}
	return local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process LocalPubSub.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(cfg.redis())
		if err != nil {
			return nil, err
		}
		return &pubSubAdapter[*cacheredis.RedisMessage]{
			publish:   rps.Publish,
			subscribe: rps.Subscribe,
			close:     rps.Close,
			convert:   func(m *cacheredis.RedisMessage) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
		}, nil
	}
	lps := local.NewPubSub(cfg.LocalPubSubBuf)
	return &pubSubAdapter[*local.LocalMessage]{
		publish:   lps.Publish,
		subscribe: lps.Subscribe,
		close:     lps.Close,
		convert:   func(m *local.LocalMessage) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
	}, nil
}

// pubSubAdapter bridges a backend message type to cache.Message.
type pubSubAdapter[M any] struct {
	publish   func(ctx context.Context, channel, message string) error
	subscribe func(ctx context.Context, channels ...string) (<-chan M, func(), error)
	close     func() error
	convert   func(M) *Message
}

func (a *pubSubAdapter[M]) Publish(ctx context.Context, channel, message string) error {
	return a.publish(ctx, channel, message)
}

func (a *pubSubAdapter[M]) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range in {
			out <- a.convert(msg)
		}
	}()
	return out, cancel, nil
}

func (a *pubSubAdapter[M]) Close() error { return a.close() }
