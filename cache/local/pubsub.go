package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscription struct {
	ch       chan *LocalMessage
	channels []string
	once     sync.Once
}

// LocalPubSub is an in-process fan-out pub/sub. Publishing never blocks:
// a subscriber whose buffer is full misses the message.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	bufSize int
	dropped atomic.Uint64
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.subs[channel] {
		select {
		case s.ch <- msg:
		default:
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (ps *LocalPubSub) Dropped() uint64 { return ps.dropped.Load() }

// Subscribe returns a channel of messages for the given channels and a
// cancel function. The channel is closed by cancel or when ctx is done.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	s := &subscription{ch: make(chan *LocalMessage, ps.bufSize), channels: channels}
	ps.mu.Lock()
	for _, c := range channels {
		set, ok := ps.subs[c]
		if !ok {
			set = make(map[*subscription]struct{})
			ps.subs[c] = set
		}
		set[s] = struct{}{}
	}
	ps.mu.Unlock()

	cancel := func() { ps.unsubscribe(s) }
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return s.ch, cancel, nil
}

func (ps *LocalPubSub) unsubscribe(s *subscription) {
	s.once.Do(func() {
		ps.mu.Lock()
		for _, c := range s.channels {
			delete(ps.subs[c], s)
			if len(ps.subs[c]) == 0 {
				delete(ps.subs, c)
			}
		}
		ps.mu.Unlock()
		close(s.ch)
	})
}

// Close drops every subscription.
func (ps *LocalPubSub) Close() error {
	ps.mu.RLock()
	var all []*subscription
	seen := map[*subscription]bool{}
	for _, set := range ps.subs {
		for s := range set {
			if !seen[s] {
				seen[s] = true
				all = append(all, s)
			}
		}
	}
	ps.mu.RUnlock()
	for _, s := range all {
		ps.unsubscribe(s)
	}
	return nil
}
