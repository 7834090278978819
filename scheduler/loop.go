package scheduler

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when work is submitted to a loop that has shut down.
var ErrStopped = errors.New("scheduler: loop stopped")

// Executor accepts work for later execution.
type Executor interface {
	Post(fn func()) bool
}

// Loop is the single main execution context. Tasks run one at a time in the
// order they were posted; the guild model, confirmation tracker and command
// dispatcher are only ever touched from inside a task.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewLoop creates a loop with a queue of size buf.
func NewLoop(logger *zap.Logger, buf int) *Loop {
	if buf <= 0 {
		buf = 1024
	}
	return &Loop{
		tasks:  make(chan func(), buf),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn. It blocks while the queue is full and returns false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// the task may still run during the final drain
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run executes tasks until ctx is cancelled or Stop is called, then runs
// whatever is still queued and returns.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		case <-ctx.Done():
			l.Stop()
			l.drain()
			return ctx.Err()
		case <-l.done:
			l.drain()
			return nil
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("main loop task panicked", zap.Any("recover", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Stop makes Run return after draining. Safe to call more than once.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the loop has been stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }
