package bridge

import (
	"github.com/rs/zerolog"

	"vambridge/internal/logger"
	"vambridge/internal/protocol"
)

// Announcer delivers one payload to every registered browser connection.
// Both the hub's broadcast primitive and the plugin listener's arrival
// announcement go through this interface.
type Announcer interface {
	Broadcast(payload []byte)
}

// Router decides, for every decoded message, between a broadcast to all
// browsers and a targeted forward to one plugin, and performs the delivery.
// It does no blocking I/O of its own: delivery delegates to each target
// connection's Send primitive.
type Router struct {
	registry *Registry
	log      zerolog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{
		registry: registry,
		log:      logger.New(),
	}
}

// Route dispatches one decoded message from origin. Plugin traffic is
// broadcast to all registered browsers byte-for-byte; browser traffic is
// normalized and forwarded to the plugin matching its id and name. Routing
// failures are silent: no error ever travels back across the bridge.
func (r *Router) Route(origin Side, env *protocol.Envelope) {
	switch origin {
	case SidePlugin:
		r.Broadcast(env.Raw())
	case SideBrowser:
		r.forwardToPlugin(env)
	}
}

// Broadcast delivers payload to every registered browser connection. A
// connection whose send fails is closed and deregistered while delivery
// continues to the rest, so one dead or slow client never blocks the others.
func (r *Router) Broadcast(payload []byte) {
	for _, conn := range r.registry.Snapshot(SideBrowser) {
		if err := conn.Send(payload); err != nil {
			r.log.Warn().
				Err(err).
				Str("conn", conn.Key()).
				Str("remote", conn.RemoteAddr()).
				Msg("Dropping browser connection after failed broadcast")

			r.registry.Remove(SideBrowser, conn)
			_ = conn.Close()
		}
	}
}

// forwardToPlugin normalizes a browser message and delivers it to the
// plugin whose registered identity matches the message's id and name. A
// missing target is a silent no-op; a failed send tears down the target
// connection without touching the originating browser.
func (r *Router) forwardToPlugin(env *protocol.Envelope) {
	id, okID := env.StringField("id")
	name, okName := env.StringField("name")
	if !okID || !okName {
		r.log.Debug().
			Str("cmd", env.Cmd()).
			Msg("Dropping browser message without target id/name")
		return
	}

	normalized, err := protocol.NormalizeForPlugin(env)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("cmd", env.Cmd()).
			Msg("Failed to normalize browser message")
		return
	}

	target := r.registry.FindBySide(SidePlugin, id, name)
	if target == nil {
		r.log.Debug().
			Str("cmd", normalized.Cmd()).
			Str("id", id).
			Str("name", name).
			Msg("No plugin matches target identity")
		return
	}

	if err := target.Send(normalized.Raw()); err != nil {
		r.log.Warn().
			Err(err).
			Str("conn", target.Key()).
			Str("id", id).
			Str("name", name).
			Msg("Dropping plugin connection after failed forward")

		r.registry.Remove(SidePlugin, target)
		_ = target.Close()
		return
	}

	r.log.Debug().
		Str("cmd", normalized.Cmd()).
		Str("id", id).
		Str("name", name).
		Msg("Forwarded browser message to plugin")
}
