// Package scheduler runs named periodic and delayed tasks. The host frame
// loop and the game state flusher run on it.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is a delayed task.
type TaskFn func()

// TickFn is a periodic task. elapsed is the wall time since the previous run
// of the same ticker (the interval on the first run).
type TickFn func(elapsed time.Duration)

// TickerStats describes one ticker.
type TickerStats struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     uint64        `json:"runs"`
	// Overruns counts runs that took longer than the interval.
	Overruns uint64 `json:"overruns"`
	Panics   uint64 `json:"panics"`
}

// Scheduler manages periodic and delayed tasks.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*time.Timer
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

type tickerEntry struct {
	ticker *time.Ticker
	stopCh chan struct{}

	mu    sync.Mutex
	stats TickerStats
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
}

// AddTicker registers fn to run every interval. A task with the same name
// is replaced. Runs of one ticker never overlap.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TickFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	entry := &tickerEntry{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
		stats:  TickerStats{Name: name, Interval: interval},
	}
	s.tickers[name] = entry

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer entry.ticker.Stop()
		last := time.Now().Add(-interval)
		for {
			select {
			case now := <-entry.ticker.C:
				elapsed := now.Sub(last)
				last = now
				s.runTick(name, entry, fn, elapsed)
			case <-entry.stopCh:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) runTick(name string, entry *tickerEntry, fn TickFn, elapsed time.Duration) {
	start := time.Now()
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				s.logger.Error("scheduler task panicked",
					zap.String("task", name),
					zap.Any("recover", r))
			}
		}()
		fn(elapsed)
	}()
	took := time.Since(start)

	entry.mu.Lock()
	entry.stats.Runs++
	if took > entry.stats.Interval {
		entry.stats.Overruns++
	}
	if panicked {
		entry.stats.Panics++
	}
	entry.mu.Unlock()
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("delay task panicked",
					zap.String("task", name), zap.Any("recover", r))
			}
			s.mu.Lock()
			if s.timers[name] == t {
				delete(s.timers, name)
			}
			s.mu.Unlock()
		}()
		fn()
	})
	s.timers[name] = t
}

// Remove stops and removes a ticker or delay task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop stops all tasks and waits for running ticks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
		for name, t := range s.timers {
			t.Stop()
			delete(s.timers, name)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ListTickers returns the names of all registered ticker tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every ticker, sorted by name.
func (s *Scheduler) Stats() []TickerStats {
	s.mu.Lock()
	entries := make([]*tickerEntry, 0, len(s.tickers))
	for _, e := range s.tickers {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	out := make([]TickerStats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.stats)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
