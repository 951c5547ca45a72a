// Package eventbus fans interpreter notifications out to in-process hooks,
// the pub/sub channel read by stream clients, and a capped recent-history list.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/eventvm/cache"
	"github.com/kasuganosora/eventvm/game/interpreter"
	"github.com/kasuganosora/eventvm/plugin/hook"
	"go.uber.org/zap"
)

const (
	// Channel is the pub/sub channel every bus event is published on.
	Channel = "event_bus"
	// RecentKey holds the most recent envelopes, newest first.
	RecentKey = "event_bus:recent"
	// DefaultHistory is how many envelopes RecentKey keeps.
	DefaultHistory = 100
)

// Envelope is the wire form of one bus event.
type Envelope struct {
	Seq     uint64                 `json:"seq"`
	Type    string                 `json:"type"`
	EventID int                    `json:"event_id"`
	Data    map[string]interface{} `json:"data"`
	At      time.Time              `json:"at"`
}

// Options configures a Bus. Every collaborator is optional.
type Options struct {
	Hooks   *hook.HookCenter
	PubSub  cache.PubSub
	Cache   cache.Cache
	History int
	// QueueSize bounds the publish queue; overflow drops envelopes.
	QueueSize int
}

// Bus implements interpreter.EventBus.
type Bus struct {
	hooks   *hook.HookCenter
	ps      cache.PubSub
	c       cache.Cache
	history int
	logger  *zap.Logger

	seq     atomic.Uint64
	dropped atomic.Uint64
	ch      chan *Envelope
	stopCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New creates a Bus and starts its publish worker when a PubSub or Cache is set.
func New(opts Options, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	b := &Bus{
		hooks:   opts.Hooks,
		ps:      opts.PubSub,
		c:       opts.Cache,
		history: opts.History,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	if b.ps != nil || b.c != nil {
		b.ch = make(chan *Envelope, opts.QueueSize)
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// Emit runs the hooks synchronously and queues the envelope for publishing.
// A hook returning hook.ErrInterrupt keeps the event off the wire.
func (b *Bus) Emit(ev interpreter.BusEvent) {
	env := &Envelope{
		Seq:     b.seq.Add(1),
		Type:    ev.Type,
		EventID: ev.EventID,
		Data:    ev.Data,
		At:      time.Now().UTC(),
	}
	if b.hooks != nil {
		ctx := context.Background()
		if _, err := b.hooks.Trigger(ctx, hook.OnBusEvent, env); err != nil {
			return
		}
		if _, err := b.hooks.Trigger(ctx, hook.BusEventName(ev.Type), env); err != nil {
			return
		}
	}
	if b.ch == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}
	select {
	case b.ch <- env:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event bus queue full, dropping event",
			zap.String("type", ev.Type), zap.Int("event_id", ev.EventID))
	}
}

// Dropped returns how many envelopes were discarded because the queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Stop publishes what is still queued and stops the worker.
func (b *Bus) Stop() {
	b.once.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case env := <-b.ch:
			b.publish(env)
		case <-b.stopCh:
			for {
				select {
				case env := <-b.ch:
					b.publish(env)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) publish(env *Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("encode bus event failed", zap.String("type", env.Type), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if b.ps != nil {
		if err := b.ps.Publish(ctx, Channel, string(payload)); err != nil {
			b.logger.Warn("publish bus event failed", zap.String("type", env.Type), zap.Error(err))
		}
	}
	if b.c != nil {
		if err := b.c.LPush(ctx, RecentKey, string(payload)); err != nil {
			b.logger.Warn("record bus event failed", zap.Error(err))
			return
		}
		if err := b.c.LTrim(ctx, RecentKey, 0, int64(b.history-1)); err != nil {
			b.logger.Warn("trim bus history failed", zap.Error(err))
		}
	}
}

// Recent returns up to n envelopes from the history, newest first.
func (b *Bus) Recent(ctx context.Context, n int) ([]Envelope, error) {
	if b.c == nil || n <= 0 {
		return nil, nil
	}
	raw, err := b.c.LRange(ctx, RecentKey, 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(raw))
	for _, s := range raw {
		var env Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			b.logger.Warn("skip undecodable bus history entry", zap.Error(err))
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// Decode parses a payload received from Channel.
func Decode(payload string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, err
	}
	return &env, nil
}
