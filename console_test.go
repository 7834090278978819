package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/command"
	"github.com/kasuganosora/guilds/server/config"
	"github.com/kasuganosora/guilds/server/confirm"
	"github.com/kasuganosora/guilds/server/event"
	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/host"
	"github.com/kasuganosora/guilds/server/lang"
	"github.com/kasuganosora/guilds/server/scheduler"
	"github.com/kasuganosora/guilds/server/storage"
	"github.com/kasuganosora/guilds/server/storage/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestConsoleDispatchesLines(t *testing.T) {
	cfg := config.Defaults()
	holder, err := config.NewStaticHolder(cfg)
	require.NoError(t, err)
	store, err := filestore.Open(t.TempDir())
	require.NoError(t, err)

	loop := scheduler.NewLoop(nop(), 16)
	go func() { _ = loop.Run(context.Background()) }()
	defer loop.Stop()
	w := storage.NewWriter(store, loop, 1, nop())
	defer w.Close()

	players := host.NewDirectory(nop())
	rt := &command.Runtime{
		Model:   guild.NewManager(holder.Current().Rules),
		Tracker: confirm.NewTracker(cfg.ConfirmTTL()),
		Store:   w,
		Bus:     event.NewBus(nop()),
		Economy: host.Unavailable{},
		Visual:  host.NoVisual{},
		World:   players,
		Players: players,
		Config:  holder,
		Catalog: lang.Default(),
		Exec:    loop,
		Logger:  nop(),
	}
	d := command.NewDispatcher(rt)

	out := &syncBuffer{}
	in := strings.NewReader("guild list\n\n/g version\ncreate A B\n")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runConsole(ctx, in, out, loop, d, nop())

	assert.Equal(t, []string{
		"There are no guilds yet.",
		"Running version " + config.Version + ".",
		"Only players can use this command.",
	}, strings.Split(strings.TrimSpace(out.String()), "\n"))
}
