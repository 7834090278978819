package command

import (
	"slices"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/kasuganosora/guilds/server/storage"
	"go.uber.org/zap"
)

// write is a change whose storage outcome is still unknown.
type write struct {
	change  guild.Change
	done    func(error)
	retried bool
	settled bool
}

func (rt *Runtime) snapshot() *storage.Snapshot {
	return &storage.Snapshot{Rev: rt.Model.Revision(), Maps: rt.Model.SideMaps()}
}

// persist mirrors c to storage. done runs on the main loop once the write has
// finished; a non-nil error means c was undone.
func (rt *Runtime) persist(c guild.Change, done func(error)) {
	rt.submit(&write{change: c, done: done})
}

func (rt *Runtime) submit(w *write) {
	if rt.writes == nil {
		rt.writes = make(map[string][]*write)
	}
	id := w.change.GuildID()
	rt.writes[id] = append(rt.writes[id], w)
	finish := func(err error) { rt.settle(id, w, err) }
	if w.change.After != nil {
		rt.Store.SaveGuild(w.change.After, rt.snapshot(), finish)
		return
	}
	rt.Store.RemoveGuild(w.change.Before, rt.snapshot(), func(_ bool, err error) { finish(err) })
}

func (rt *Runtime) setWrites(id string, queue []*write) {
	if len(queue) == 0 {
		delete(rt.writes, id)
		return
	}
	rt.writes[id] = queue
}

// settle applies the outcome of w. Writes of one guild complete in the order
// they were submitted, so a failure undoes w together with every change built
// on top of it, and each of their callbacks sees the error.
func (rt *Runtime) settle(id string, w *write, err error) {
	if w.settled {
		return
	}
	queue := rt.writes[id]
	i := slices.Index(queue, w)
	if i < 0 {
		i = len(queue)
		queue = append(queue, w)
	}
	if err == nil {
		w.settled = true
		rt.setWrites(id, slices.Delete(slices.Clone(queue), i, i+1))
		if w.done != nil {
			w.done(nil)
		}
		return
	}

	failed := slices.Clone(queue[i:])
	rt.setWrites(id, slices.Clone(queue[:i]))
	for _, f := range failed {
		f.settled = true
	}
	target := failed[0].change.Before
	if rerr := rt.Model.Rollback(id, target); rerr != nil {
		if !w.retried {
			rt.Logger.Warn("failed change clashes with a later one, writing it again",
				zap.String("guild_id", id), zap.Error(err), zap.NamedError("clash", rerr))
			rt.retry(id, target, failed)
			return
		}
		rt.Logger.Error("failed change could not be undone",
			zap.String("guild_id", id), zap.Error(err), zap.NamedError("clash", rerr))
	}
	for _, f := range failed {
		if f.done != nil {
			f.done(err)
		}
	}
	rt.resync(id, failed[0].change)
}

// retry writes the current state of id once more on behalf of failed changes
// that could not be undone; its outcome goes to all of them. target is never
// nil here since rolling back to absent cannot clash.
func (rt *Runtime) retry(id string, target *guild.Guild, failed []*write) {
	var cur *guild.Guild
	if g, ok := rt.Model.ByID(id); ok {
		cur = g
	}
	rt.submit(&write{
		change:  guild.Change{Before: target, After: cur},
		retried: true,
		done: func(err error) {
			for _, f := range failed {
				if f.done != nil {
					f.done(err)
				}
			}
		},
	})
}

// resync queues a write of whatever the model now holds for id, so that storage
// drops the state a failed write may have left behind.
func (rt *Runtime) resync(id string, ref guild.Change) {
	logFail := func(err error) {
		if err != nil {
			rt.Logger.Warn("resync write failed", zap.String("guild_id", id), zap.Error(err))
		}
	}
	if g, ok := rt.Model.ByID(id); ok {
		rt.Store.SaveGuild(g, rt.snapshot(), logFail)
		return
	}
	gone := ref.After
	if gone == nil {
		gone = ref.Before
	}
	rt.Store.RemoveGuild(gone, rt.snapshot(), func(_ bool, err error) { logFail(err) })
}
