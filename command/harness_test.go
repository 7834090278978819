package command

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/audit"
	"github.com/kasuganosora/guilds/server/cache"
	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/confirm"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
	"github.com/kasuganosora/guilds/server/storage"
	"github.com/kasuganosora/guilds/server/storage/filestore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

var (
	alice = host.Player{ID: "p-alice", Name: "Alice"}
	bob   = host.Player{ID: "p-bob", Name: "Bob"}
	carol = host.Player{ID: "p-carol", Name: "Carol"}
)

// mainLoop queues posted callbacks until the test runs them.
type mainLoop struct{ ch chan func() }

func (l *mainLoop) Post(fn func()) bool { l.ch <- fn; return true }

// flakyBackend fails guild writes while fail is set and side map writes while
// failSide is set. A non-nil gate holds every guild write until it is closed.
type flakyBackend struct {
	*filestore.Store
	fail     atomic.Bool
	failSide atomic.Bool
	gate     chan struct{}
}

func (f *flakyBackend) WriteGuild(ctx context.Context, g *guild.Guild) error {
	if f.gate != nil {
		<-f.gate
	}
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Store.WriteGuild(ctx, g)
}

func (f *flakyBackend) DeleteGuild(ctx context.Context, id string) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Store.DeleteGuild(ctx, id)
}

func (f *flakyBackend) WriteSideMaps(ctx context.Context, s storage.Snapshot) error {
	if f.failSide.Load() {
		return errors.New("side maps unwritable")
	}
	return f.Store.WriteSideMaps(ctx, s)
}

type prefixRecorder struct{ tablist map[string]string }

func (v *prefixRecorder) SetTablistPrefix(player, text string) { v.tablist[player] = text }
func (v *prefixRecorder) SetNameTagPrefix(string, string)       {}

type auditRecorder struct{ entries []string }

func (a *auditRecorder) Record(e audit.Entry) { a.entries = append(a.entries, e.Command+":"+e.Status) }

type harness struct {
	t       *testing.T
	rt      *Runtime
	d       *Dispatcher
	loop    *mainLoop
	writer  *storage.Writer
	backend *flakyBackend
	ledger  *host.Ledger
	visual  *prefixRecorder
	audit   *auditRecorder
}

func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	for _, fn := range tweak {
		fn(cfg)
	}
	holder, err := config.NewStaticHolder(cfg)
	require.NoError(t, err)

	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	backend := &flakyBackend{Store: store}
	loop := &mainLoop{ch: make(chan func(), 512)}
	w := storage.NewWriter(backend, loop, 2, nop())
	t.Cleanup(func() { _ = w.Close() })

	c, _, err := cache.Open(cache.CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ledger := host.NewLedger(c, "economy:test", 0)

	players := host.NewDirectory(nop())
	for _, p := range []host.Player{alice, bob, carol} {
		players.Register(p)
	}
	vis := &prefixRecorder{tablist: map[string]string{}}
	rec := &auditRecorder{}
	rt := &Runtime{
		Model:   guild.NewManager(holder.Current().Rules),
		Tracker: confirm.NewTracker(cfg.ConfirmTTL()),
		Store:   w,
		Bus:     event.NewBus(nop()),
		Economy: ledger,
		Visual:  vis,
		World:   players,
		Players: players,
		Config:  holder,
		Catalog: lang.Default(),
		Audit:   rec,
		Exec:    loop,
		Logger:  nop(),
	}
	return &harness{t: t, rt: rt, d: NewDispatcher(rt), loop: loop, writer: w,
		backend: backend, ledger: ledger, visual: vis, audit: rec}
}

// run dispatches line as p and then lets every write complete.
func (h *harness) run(p host.Player, line string) Result {
	h.t.Helper()
	res := h.d.Dispatch(context.Background(), playerSender(p), line)
	h.settle()
	return res
}

// settle waits for queued writes and runs their completions until nothing is left.
func (h *harness) settle() {
	h.t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := h.writer.FlushAll(ctx)
		cancel()
		require.NoError(h.t, err)
		ran := 0
	drain:
		for {
			select {
			case fn := <-h.loop.ch:
				fn()
				ran++
			default:
				break drain
			}
		}
		if ran == 0 {
			return
		}
	}
}

// inbox returns and clears the messages p received.
func (h *harness) inbox(p host.Player) []string { return h.rt.Players.Drain(p.ID) }

func (h *harness) msg(key string, vars lang.Vars) string { return h.rt.Catalog.Render(key, vars) }

func (h *harness) guild(name string) *guild.Guild {
	h.t.Helper()
	g, ok := h.rt.Model.ByName(name)
	require.True(h.t, ok, "guild %s", name)
	return g
}

func (h *harness) fund(p host.Player, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.SetBalance(context.Background(), p.ID, amount))
}

func (h *harness) balance(p host.Player) int64 {
	h.t.Helper()
	n, err := h.ledger.Balance(context.Background(), p.ID)
	require.NoError(h.t, err)
	return n
}

// founded creates Knights led by alice with the given players as members.
func (h *harness) founded(members ...host.Player) *guild.Guild {
	h.t.Helper()
	require.Equal(h.t, Queued, h.run(alice, "guild create Knights KNT").Status)
	for _, p := range members {
		require.Equal(h.t, Queued, h.run(alice, "guild invite "+p.Name).Status)
		require.Equal(h.t, Queued, h.run(p, "guild accept Knights").Status)
	}
	h.inbox(alice)
	for _, p := range members {
		h.inbox(p)
	}
	return h.guild("Knights")
}
