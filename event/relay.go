package event

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/kasuganosora/guilds/server/cache"
)

// Channel carries committed events as JSON.
const Channel = "guild:events"

// RelayName is the observer name the relay registers under.
const RelayName = "pubsub-relay"

// AttachRelay publishes every committed event on Channel.
func AttachRelay(b *Bus, ps cache.PubSub) {
	b.Register(After, "", 1000, RelayName, func(ctx context.Context, ev Event) error {
		payload, err := sonic.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Kind, err)
		}
		return ps.Publish(ctx, Channel, string(payload))
	})
}

// Decode parses a relayed event payload.
func Decode(payload string) (Event, error) {
	var ev Event
	err := sonic.UnmarshalString(payload, &ev)
	return ev, err
}
