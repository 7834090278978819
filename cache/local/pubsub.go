package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscription struct {
	ch       chan *LocalMessage
	channels []string
	once     sync.Once
}

// LocalPubSub is an in-process fan-out pub/sub implementation.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	bufSize int
	dropped atomic.Int64
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string][]*subscription),
		bufSize: bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel. A subscriber
// whose buffer is full misses the message; see Dropped.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, s := range ps.subs[channel] {
		select {
		case s.ch <- msg:
		default:
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Dropped counts messages lost to full subscriber buffers.
func (ps *LocalPubSub) Dropped() int64 { return ps.dropped.Load() }

// Subscribe returns a channel of messages for the given channels and an idempotent cancel function.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	s := &subscription{ch: make(chan *LocalMessage, ps.bufSize), channels: channels}

	ps.mu.Lock()
	for _, c := range channels {
		ps.subs[c] = append(ps.subs[c], s)
	}
	ps.mu.Unlock()

	return s.ch, func() { ps.unsubscribe(s) }, nil
}

func (ps *LocalPubSub) unsubscribe(s *subscription) {
	s.once.Do(func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		for _, c := range s.channels {
			list := ps.subs[c]
			for j, sub := range list {
				if sub == s {
					ps.subs[c] = append(list[:j], list[j+1:]...)
					break
				}
			}
		}
		close(s.ch)
	})
}

// Close cancels every subscription.
func (ps *LocalPubSub) Close() error {
	ps.mu.RLock()
	var all []*subscription
	seen := map[*subscription]bool{}
	for _, list := range ps.subs {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				all = append(all, s)
			}
		}
	}
	ps.mu.RUnlock()
	for _, s := range all {
		ps.unsubscribe(s)
	}
	return nil
}
