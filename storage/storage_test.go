package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

// mainLoop collects posted callbacks so the test runs them like the main loop would.
type mainLoop struct{ ch chan func() }

func newMainLoop() *mainLoop { return &mainLoop{ch: make(chan func(), 64)} }

func (l *mainLoop) Post(fn func()) bool { l.ch <- fn; return true }

func (l *mainLoop) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no completion posted")
	}
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{} // when set, the first write waits on it
	fail  error
	side  []uint64
}

func (f *fakeBackend) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Load(context.Context) ([]*guild.Guild, guild.SideMaps, error) {
	return []*guild.Guild{{ID: "g1", Name: "Knights"}}, guild.NewSideMaps(), nil
}

func (f *fakeBackend) WriteGuild(_ context.Context, g *guild.Guild) error {
	f.record("write:" + g.ID + ":" + g.Name)
	return f.fail
}

func (f *fakeBackend) DeleteGuild(_ context.Context, id string) error {
	f.record("delete:" + id)
	return f.fail
}

func (f *fakeBackend) WriteSideMaps(_ context.Context, s Snapshot) error {
	f.mu.Lock()
	f.side = append(f.side, s.Rev)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func TestInitialize(t *testing.T) {
	w := NewWriter(&fakeBackend{}, newMainLoop(), 2, nop())
	defer w.Close()
	guilds, side, err := w.Initialize(context.Background())
	require.NoError(t, err)
	assert.Len(t, guilds, 1)
	assert.NotNil(t, side.Banks)
}

func TestSaveCompletesOnMainLoop(t *testing.T) {
	fb := &fakeBackend{}
	loop := newMainLoop()
	w := NewWriter(fb, loop, 2, nop())
	defer w.Close()

	var got error = errors.New("not called")
	w.SaveGuild(&guild.Guild{ID: "g1", Name: "Knights"}, &Snapshot{Rev: 3}, func(err error) { got = err })
	loop.runOne(t)
	assert.NoError(t, got)
	assert.Equal(t, []string{"write:g1:Knights"}, fb.Calls())
	assert.Equal(t, []uint64{3}, fb.side)
}

func TestLaneOrderAndCoalescing(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{gate: gate}
	loop := newMainLoop()
	w := NewWriter(fb, loop, 4, nop())
	defer w.Close()

	var order []string
	w.SaveGuild(&guild.Guild{ID: "g1", Name: "v1"}, nil, func(error) { order = append(order, "v1") })
	require.Eventually(t, func() bool { return len(fb.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	// v2 and v3 wait behind the in-flight write and are merged into one
	w.SaveGuild(&guild.Guild{ID: "g1", Name: "v2"}, nil, func(error) { order = append(order, "v2") })
	w.SaveGuild(&guild.Guild{ID: "g1", Name: "v3"}, nil, func(error) { order = append(order, "v3") })
	w.RemoveGuild(&guild.Guild{ID: "g1"}, nil, func(ok bool, err error) {
		assert.True(t, ok)
		order = append(order, "removed")
	})
	close(gate)

	for i := 0; i < 4; i++ {
		loop.runOne(t)
	}
	assert.Equal(t, []string{"v1", "v2", "v3", "removed"}, order)
	assert.Equal(t, []string{"write:g1:v1", "write:g1:v3", "delete:g1"}, fb.Calls())
}

func TestWriteFailureIsIOError(t *testing.T) {
	fb := &fakeBackend{fail: errors.New("disk full")}
	loop := newMainLoop()
	w := NewWriter(fb, loop, 1, nop())
	defer w.Close()

	var got error
	w.SaveGuild(&guild.Guild{ID: "g1"}, &Snapshot{Rev: 1}, func(err error) { got = err })
	loop.runOne(t)
	assert.ErrorIs(t, got, guild.ErrIO)
	assert.Empty(t, fb.side, "side maps are not written after a failed guild write")

	var ok = true
	w.RemoveGuild(&guild.Guild{ID: "g2"}, nil, func(res bool, err error) { ok = res; got = err })
	loop.runOne(t)
	assert.False(t, ok)
	assert.ErrorIs(t, got, guild.ErrIO)
}

func TestFlushAll(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{gate: gate}
	w := NewWriter(fb, newMainLoop(), 2, nop())
	defer w.Close()

	require.NoError(t, w.FlushAll(context.Background()))

	w.SaveGuild(&guild.Guild{ID: "g1"}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.FlushAll(ctx), context.DeadlineExceeded)

	close(gate)
	require.NoError(t, w.FlushAll(context.Background()))
}

func TestClosedWriterRejects(t *testing.T) {
	loop := newMainLoop()
	w := NewWriter(&fakeBackend{}, loop, 1, nop())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	var got error
	w.SaveGuild(&guild.Guild{ID: "g1"}, nil, func(err error) { got = err })
	loop.runOne(t)
	assert.ErrorIs(t, got, ErrClosed)
}
