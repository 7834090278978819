// Package scheduler provides the main execution loop and named periodic and
// delayed tasks that run on it.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler manages named periodic and delayed tasks. When an Executor is set,
// tasks are posted to it instead of running on the timer goroutine.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*time.Timer
	exec    Executor
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped sync.Once
}

type tickerEntry struct {
	ticker   *time.Ticker
	interval time.Duration
	stopCh   chan struct{}
}

// New creates a new Scheduler. exec may be nil.
func New(logger *zap.Logger, exec Executor) *Scheduler {
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*time.Timer),
		exec:    exec,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
}

func (s *Scheduler) run(kind, name string, fn TaskFn) {
	safe := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(kind+" task panicked",
					zap.String("task", name),
					zap.Any("recover", r))
			}
		}()
		fn()
	}
	if s.exec == nil {
		safe()
		return
	}
	if !s.exec.Post(safe) {
		s.logger.Debug("scheduler task dropped, executor stopped", zap.String("task", name))
	}
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	entry := &tickerEntry{
		ticker:   time.NewTicker(interval),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	s.tickers[name] = entry

	go func() {
		defer entry.ticker.Stop()
		for {
			select {
			case <-entry.ticker.C:
				s.run("scheduler", name, fn)
			case <-entry.stopCh:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[name] == t {
			delete(s.timers, name)
		}
		s.mu.Unlock()
		s.run("delay", name, fn)
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

// Stop stops all tasks.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		defer s.mu.Unlock()
		for name, t := range s.timers {
			t.Stop()
			delete(s.timers, name)
		}
	})
}

// TaskInfo describes a registered ticker.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
}

// ListTickers returns the registered ticker tasks ordered by name.
func (s *Scheduler) ListTickers() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tickers))
	for name, e := range s.tickers {
		out = append(out, TaskInfo{Name: name, Interval: e.interval})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
