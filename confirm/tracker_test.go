package confirm

import (
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	accepted, declined int
}

func (c *counter) action() Func {
	return Func{
		OnAccept:  func() { c.accepted++ },
		OnDecline: func() { c.declined++ },
	}
}

func newClockTracker(ttl time.Duration) (*Tracker, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(ttl)
	tr.SetClock(func() time.Time { return now })
	return tr, &now
}

func TestConfirmAccepts(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var c counter
	tr.Add("alice", c.action())

	require.NoError(t, tr.Confirm("alice"))
	assert.Equal(t, 1, c.accepted)

	err := tr.Confirm("alice")
	assert.ErrorIs(t, err, guild.ErrConfirmationMissing)
	assert.Equal(t, 1, c.accepted, "second confirm never fires the callback again")
}

func TestConfirmWithoutPending(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	assert.ErrorIs(t, tr.Confirm("nobody"), guild.ErrConfirmationMissing)
	assert.ErrorIs(t, tr.Cancel("nobody"), guild.ErrConfirmationMissing)
}

func TestAddDeclinesPrevious(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var first, second counter
	tr.Add("alice", first.action())
	tr.Add("alice", second.action())

	assert.Equal(t, 1, first.declined)
	assert.Equal(t, 1, tr.Len())
	require.NoError(t, tr.Confirm("alice"))
	assert.Equal(t, 0, first.accepted)
	assert.Equal(t, 1, second.accepted)
}

func TestCancel(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var c counter
	tr.Add("alice", c.action())
	require.NoError(t, tr.Cancel("alice"))
	assert.Equal(t, 1, c.declined)
	assert.Equal(t, 0, tr.Len())
}

func TestConfirmAfterDeadline(t *testing.T) {
	tr, now := newClockTracker(time.Minute)
	var c counter
	tr.Add("alice", c.action())
	*now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, tr.Confirm("alice"), guild.ErrConfirmationExpired)
	assert.Equal(t, 0, c.accepted)
	assert.Equal(t, 1, c.declined)
}

func TestSweep(t *testing.T) {
	tr, now := newClockTracker(time.Minute)
	var a, b counter
	tr.Add("alice", a.action())
	*now = now.Add(45 * time.Second)
	tr.Add("bob", b.action())

	expired := tr.Sweep(now.Add(30 * time.Second))
	assert.Equal(t, []string{"alice"}, expired)
	assert.Equal(t, 1, a.declined)
	assert.Equal(t, 0, b.declined)

	_, ok := tr.Peek("bob")
	assert.True(t, ok)
}

func TestPlayersAreIndependent(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var a, b counter
	tr.Add("alice", a.action())
	tr.Add("bob", b.action())

	require.NoError(t, tr.Confirm("bob"))
	assert.Equal(t, 1, b.accepted)
	assert.Equal(t, 0, a.accepted+a.declined)
	_, ok := tr.Peek("alice")
	assert.True(t, ok)
}

func TestCallbackMayStageFollowUp(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var follow counter
	tr.Add("alice", Func{OnAccept: func() { tr.Add("alice", follow.action()) }})

	require.NoError(t, tr.Confirm("alice"))
	assert.Equal(t, 0, follow.declined, "slot is cleared before the callback runs")
	require.NoError(t, tr.Confirm("alice"))
	assert.Equal(t, 1, follow.accepted)
}

func TestPeekTagAndRemove(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var c counter
	f := c.action()
	f.Tag = "invite:g1"
	tr.Add("bob", f)

	p, ok := tr.Peek("bob")
	require.True(t, ok)
	assert.Equal(t, "invite:g1", p.Tag)

	assert.True(t, tr.Remove("bob"))
	assert.False(t, tr.Remove("bob"))
	assert.Equal(t, 0, c.accepted+c.declined)
}

func TestDeclineAll(t *testing.T) {
	tr, _ := newClockTracker(time.Minute)
	var a, b counter
	tr.Add("alice", a.action())
	tr.Add("bob", b.action())
	assert.Equal(t, 2, tr.DeclineAll())
	assert.Equal(t, 1, a.declined)
	assert.Equal(t, 1, b.declined)
	assert.Equal(t, 0, tr.Len())
}

func TestExpired(t *testing.T) {
	tr, now := newClockTracker(time.Minute)
	var c counter
	tr.Add("alice", c.action())
	p, ok := tr.Peek("alice")
	require.True(t, ok)
	assert.False(t, tr.Expired(p))

	*now = now.Add(2 * time.Minute)
	assert.True(t, tr.Expired(p))
	assert.Equal(t, 0, c.declined, "checking does not decline")
}
