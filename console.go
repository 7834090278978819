package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kasuganosora/guilds/server/command"
	"github.com/kasuganosora/guilds/server/scheduler"
	"go.uber.org/zap"
)

// runConsole feeds lines from in to the dispatcher as the server console until
// in is exhausted or ctx ends. The base command word is optional.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, loop *scheduler.Loop, d *command.Dispatcher, logger *zap.Logger) {
	var mu sync.Mutex
	s := command.Sender{
		Name:   "console",
		Admin:  true,
		Source: command.SourceConsole,
		Reply: func(text string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out, text)
		},
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := loop.Call(ctx, func() { d.Dispatch(ctx, s, line) }); err != nil {
				logger.Warn("console command dropped", zap.String("line", line), zap.Error(err))
				return
			}
		}
	}
}
