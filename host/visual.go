package host

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/kasuganosora/guilds/server/cache"
	"go.uber.org/zap"
)

// VisualChannel carries prefix updates for the host's tablist and nametag plugins.
const VisualChannel = "guild:visual"

// Visual sets guild prefixes on player displays.
type Visual interface {
	SetTablistPrefix(player, text string)
	SetNameTagPrefix(player, text string)
}

// NoVisual is used when no display integration is enabled.
type NoVisual struct{}

func (NoVisual) SetTablistPrefix(string, string) {}
func (NoVisual) SetNameTagPrefix(string, string) {}

// VisualOptions mirror the tablist and hook feature flags.
type VisualOptions struct {
	Tablist        bool
	UseDisplayName bool
	NameTag        bool
}

type visualUpdate struct {
	Player string `json:"player"`
	Slot   string `json:"slot"` // tablist | nametag
	Prefix string `json:"prefix"`
	Label  string `json:"label,omitempty"`
}

// PubSubVisual publishes prefix updates for the host to apply.
type PubSubVisual struct {
	opts   VisualOptions
	ps     cache.PubSub
	dir    *Directory
	logger *zap.Logger
}

// NewVisual returns NoVisual when every integration is disabled.
func NewVisual(opts VisualOptions, ps cache.PubSub, dir *Directory, logger *zap.Logger) Visual {
	if !opts.Tablist && !opts.NameTag {
		return NoVisual{}
	}
	return &PubSubVisual{opts: opts, ps: ps, dir: dir, logger: logger}
}

func (v *PubSubVisual) publish(u visualUpdate) {
	payload, err := sonic.Marshal(u)
	if err != nil {
		v.logger.Warn("encode visual update", zap.Error(err))
		return
	}
	if err := v.ps.Publish(context.Background(), VisualChannel, string(payload)); err != nil {
		v.logger.Warn("publish visual update", zap.String("player", u.Player), zap.Error(err))
	}
}

func (v *PubSubVisual) SetTablistPrefix(player, text string) {
	if !v.opts.Tablist {
		return
	}
	u := visualUpdate{Player: player, Slot: "tablist", Prefix: text}
	if p, ok := v.dir.Get(player); ok {
		u.Label = p.Name
		if v.opts.UseDisplayName && p.DisplayName != "" {
			u.Label = p.DisplayName
		}
	}
	v.publish(u)
}

func (v *PubSubVisual) SetNameTagPrefix(player, text string) {
	if !v.opts.NameTag {
		return
	}
	v.publish(visualUpdate{Player: player, Slot: "nametag", Prefix: text})
}

// DecodeVisual parses a published visual update into player, slot and prefix.
func DecodeVisual(payload string) (player, slot, prefix string, err error) {
	var u visualUpdate
	if err = sonic.UnmarshalString(payload, &u); err != nil {
		return "", "", "", err
	}
	return u.Player, u.Slot, u.Prefix, nil
}
