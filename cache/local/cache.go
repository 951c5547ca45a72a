package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("cache: key not found")
	// ErrWrongType is returned when a list operation hits a string key or vice versa.
	ErrWrongType = errors.New("cache: wrong value type for key")
)

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// item is either a string or a list, with an optional expiry.
type item struct {
	str      string
	list     []string
	isList   bool
	expireAt time.Time // zero = no expiry
}

func (it *item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && now.After(it.expireAt)
}

// LocalCache is an in-process string/list store with TTLs, shaped after the
// subset of Redis the server uses.
type LocalCache struct {
	mu     sync.Mutex
	items  map[string]*item
	stopGC chan struct{}
	once   sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		items:  make(map[string]*item),
		stopGC: make(chan struct{}),
	}
	go c.runGC(interval)
	return c, nil
}

// Close stops the background GC goroutine.
func (c *LocalCache) Close() error {
	c.once.Do(func() { close(c.stopGC) })
	return nil
}

func (c *LocalCache) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.mu.Lock()
			for k, it := range c.items {
				if it.expired(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

// live returns the unexpired item for key; c.mu must be held.
func (c *LocalCache) live(key string) (*item, bool) {
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(time.Now()) {
		delete(c.items, key)
		return nil, false
	}
	return it, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		return "", ErrNotFound
	}
	if it.isList {
		return "", ErrWrongType
	}
	return it.str, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.items[key] = &item{str: value, expireAt: expiry(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	return ok, nil
}

func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		return ErrNotFound
	}
	it.expireAt = expiry(ttl)
	return nil
}

// ---- List ----

// LPush prepends values in order, so the last value ends up at index 0.
func (c *LocalCache) LPush(_ context.Context, key string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		it = &item{isList: true}
		c.items[key] = it
	}
	if !it.isList {
		return ErrWrongType
	}
	head := make([]string, 0, len(values)+len(it.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	it.list = append(head, it.list...)
	return nil
}

// clampRange converts Redis-style inclusive indexes (negative = from the end)
// to a half-open slice range.
func clampRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

func (c *LocalCache) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		return nil, nil
	}
	if !it.isList {
		return nil, ErrWrongType
	}
	lo, hi, ok := clampRange(int64(len(it.list)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo)
	copy(out, it.list[lo:hi])
	return out, nil
}

func (c *LocalCache) LTrim(_ context.Context, key string, start, stop int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		return nil
	}
	if !it.isList {
		return ErrWrongType
	}
	lo, hi, ok := clampRange(int64(len(it.list)), start, stop)
	if !ok {
		delete(c.items, key)
		return nil
	}
	it.list = append([]string(nil), it.list[lo:hi]...)
	return nil
}
