// Package storage mirrors the guild model to durable storage. Writes run on a
// bounded worker pool, one lane per guild id, and their completions are posted
// back to the main loop.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/scheduler"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ErrClosed is reported for writes submitted after Close.
var ErrClosed = errors.New("storage: provider closed")

// Snapshot is a copy of the side maps taken at model revision Rev. Backends
// never let an older snapshot overwrite a newer one.
type Snapshot struct {
	Rev  uint64
	Maps guild.SideMaps
}

// Backend performs blocking IO. Implementations must be safe for use from
// several workers at once; calls for one guild id never overlap.
type Backend interface {
	Load(ctx context.Context) ([]*guild.Guild, guild.SideMaps, error)
	WriteGuild(ctx context.Context, g *guild.Guild) error
	DeleteGuild(ctx context.Context, id string) error
	WriteSideMaps(ctx context.Context, s Snapshot) error
	Close() error
}

// Provider is the persistence boundary seen by the command layer. Callbacks
// always run on the main loop.
type Provider interface {
	Initialize(ctx context.Context) ([]*guild.Guild, guild.SideMaps, error)
	SaveGuild(g *guild.Guild, side *Snapshot, done func(error))
	RemoveGuild(g *guild.Guild, side *Snapshot, done func(bool, error))
	FlushAll(ctx context.Context) error
	Close() error
}

type job struct {
	remove bool
	g      *guild.Guild
	side   *Snapshot
	dones  []func(error)
}

type lane struct {
	queue []*job
}

// Writer is the Provider over a Backend.
type Writer struct {
	backend Backend
	exec    scheduler.Executor
	logger  *zap.Logger

	mu      sync.Mutex
	lanes   map[string]*lane // guild id → queued jobs; present while a worker owns the lane
	pending int
	idle    chan struct{}
	closed  bool

	sends  sync.WaitGroup
	ready  chan string
	pool   *pool.Pool
	feeder chan struct{}
}

// NewWriter starts a writer with at most workers concurrent writes.
func NewWriter(backend Backend, exec scheduler.Executor, workers int, logger *zap.Logger) *Writer {
	if workers < 1 {
		workers = 1
	}
	idle := make(chan struct{})
	close(idle)
	w := &Writer{
		backend: backend,
		exec:    exec,
		logger:  logger,
		lanes:   make(map[string]*lane),
		idle:    idle,
		ready:   make(chan string, 4096),
		pool:    pool.New().WithMaxGoroutines(workers),
		feeder:  make(chan struct{}),
	}
	go w.feed()
	return w
}

// feed is the only caller of pool.Go, so a saturated pool never blocks the main loop.
func (w *Writer) feed() {
	defer close(w.feeder)
	for id := range w.ready {
		w.pool.Go(func() { w.drain(id) })
	}
}

// Initialize loads every persisted guild and the side maps.
func (w *Writer) Initialize(ctx context.Context) ([]*guild.Guild, guild.SideMaps, error) {
	guilds, side, err := w.backend.Load(ctx)
	if err != nil {
		return nil, guild.SideMaps{}, guild.IOError(err)
	}
	w.logger.Info("guilds loaded", zap.Int("count", len(guilds)))
	return guilds, side, nil
}

// SaveGuild queues a write of g. A save still waiting behind an in-flight
// write of the same guild absorbs this one; both callbacks fire in order.
func (w *Writer) SaveGuild(g *guild.Guild, side *Snapshot, done func(error)) {
	w.enqueue(&job{g: g.Clone(), side: side, dones: []func(error){done}})
}

// RemoveGuild queues the deletion of g.
func (w *Writer) RemoveGuild(g *guild.Guild, side *Snapshot, done func(bool, error)) {
	var cb func(error)
	if done != nil {
		cb = func(err error) { done(err == nil, err) }
	}
	w.enqueue(&job{remove: true, g: g.Clone(), side: side, dones: []func(error){cb}})
}

func (w *Writer) enqueue(j *job) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.deliver(j, guild.IOError(ErrClosed))
		return
	}
	id := j.g.ID
	l, running := w.lanes[id]
	if !running {
		l = &lane{}
		w.lanes[id] = l
	}
	if n := len(l.queue); n > 0 && !j.remove && !l.queue[n-1].remove {
		tail := l.queue[n-1]
		tail.g = j.g
		if j.side != nil {
			tail.side = j.side
		}
		tail.dones = append(tail.dones, j.dones...)
		w.mu.Unlock()
		return
	}
	l.queue = append(l.queue, j)
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
	if !running {
		w.sends.Add(1)
	}
	w.mu.Unlock()
	if !running {
		w.ready <- id
		w.sends.Done()
	}
}

func (w *Writer) drain(id string) {
	for {
		w.mu.Lock()
		l := w.lanes[id]
		if len(l.queue) == 0 {
			delete(w.lanes, id)
			w.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		w.mu.Unlock()

		err := w.run(j)
		w.deliver(j, err)

		w.mu.Lock()
		w.pending--
		if w.pending == 0 {
			close(w.idle)
		}
		w.mu.Unlock()
	}
}

func (w *Writer) run(j *job) error {
	ctx := context.Background()
	var err error
	if j.remove {
		err = w.backend.DeleteGuild(ctx, j.g.ID)
	} else {
		err = w.backend.WriteGuild(ctx, j.g)
	}
	if err == nil && j.side != nil {
		err = w.backend.WriteSideMaps(ctx, *j.side)
	}
	if err != nil {
		w.logger.Error("guild write failed",
			zap.String("guild_id", j.g.ID),
			zap.String("guild", j.g.Name),
			zap.Bool("remove", j.remove),
			zap.Error(err),
			zap.Stack("stack"))
		return guild.IOError(err)
	}
	return nil
}

func (w *Writer) deliver(j *job, err error) {
	for _, done := range j.dones {
		if done == nil {
			continue
		}
		if !w.exec.Post(func() { done(err) }) {
			w.logger.Warn("write completion dropped, main loop stopped", zap.String("guild_id", j.g.ID))
		}
	}
}

// FlushAll blocks until every queued write has finished or ctx is done.
func (w *Writer) FlushAll(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, waits for queued ones and closes the backend.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	w.sends.Wait()
	close(w.ready)
	<-w.feeder
	w.pool.Wait()
	return w.backend.Close()
}
