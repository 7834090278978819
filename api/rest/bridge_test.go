package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guilds/server/api/rest"
	"github.com/kasuganosora/guilds/server/audit"
	"github.com/kasuganosora/guilds/server/command"
	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/confirm"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
	mw "github.com/kasuganosora/guilds/server/middleware"
	"github.com/kasuganosora/guilds/server/scheduler"
	"github.com/kasuganosora/guilds/server/storage"
	"github.com/kasuganosora/guilds/server/storage/filestore"
	"github.com/kasuganosora/guilds/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAdminKey = "admin-secret"

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type fixture struct {
	t      *testing.T
	r      *gin.Engine
	rt     *command.Runtime
	loop   *scheduler.Loop
	writer *storage.Writer
	ledger *host.Ledger
	audit  *audit.Service
}

func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.Server.AdminKey = testAdminKey
	cfg.Server.JWTSecret = "bridge-test-secret"
	cfg.Server.TokenTTL = time.Hour
	cfg.Server.CommandRPS = 100
	cfg.Server.CommandBurst = 100
	for _, fn := range tweak {
		fn(cfg)
	}
	holder, err := config.NewStaticHolder(cfg)
	require.NoError(t, err)

	loop := scheduler.NewLoop(nop(), 64)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(stopped)
	}()

	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	w := storage.NewWriter(store, loop, 2, nop())

	c, ps := testutil.SetupTestCache(t)
	ledger := host.NewLedger(c, "economy:test", 100)
	auditSvc := audit.New(testutil.SetupTestDB(t), nop())
	sched := scheduler.New(nop(), loop)

	players := host.NewDirectory(nop())
	rt := &command.Runtime{
		Model:   guild.NewManager(holder.Current().Rules),
		Tracker: confirm.NewTracker(cfg.ConfirmTTL()),
		Store:   w,
		Bus:     event.NewBus(nop()),
		Economy: ledger,
		Visual:  host.NewVisual(host.VisualOptions{Tablist: true}, ps, players, nop()),
		World:   players,
		Players: players,
		Config:  holder,
		Catalog: lang.Default(),
		Audit:   auditSvc,
		Exec:    loop,
		Logger:  nop(),
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(nop()))
	rest.Mount(r, rest.Deps{
		Loop:       loop,
		Dispatcher: command.NewDispatcher(rt),
		Runtime:    rt,
		Cache:      c,
		Ledger:     ledger,
		Audit:      auditSvc,
		Scheduler:  sched,
		Server:     cfg.Server,
		Logger:     nop(),
	})

	t.Cleanup(func() {
		sched.Stop()
		_ = w.Close()
		cancel()
		<-stopped
		auditSvc.Stop(context.Background())
	})
	return &fixture{t: t, r: r, rt: rt, loop: loop, writer: w, ledger: ledger, audit: auditSvc}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if len(path) > 11 && path[:11] == "/api/admin/" {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// register brings a player online and returns their session token.
func (f *fixture) register(id, name string) string {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/admin/players", "", map[string]any{"id": id, "name": name})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		Token string `json:"token"`
	}](f.t, w).Token
}

type cmdResp struct {
	Status   string   `json:"status"`
	Key      string   `json:"key"`
	Error    string   `json:"error"`
	Messages []string `json:"messages"`
}

func (f *fixture) command(token, line string) cmdResp {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/guild/commands", token, map[string]string{"line": line})
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	return decode[cmdResp](f.t, w)
}

func (f *fixture) messages(token string) []string {
	f.t.Helper()
	w := f.do(http.MethodGet, "/api/guild/messages", token, nil)
	require.Equal(f.t, http.StatusOK, w.Code)
	return decode[struct {
		Messages []string `json:"messages"`
	}](f.t, w).Messages
}

// settle waits for queued writes and for their completions to run on the loop.
func (f *fixture) settle() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(f.t, f.writer.FlushAll(ctx))
	require.NoError(f.t, f.loop.Call(ctx, func() {}))
}
