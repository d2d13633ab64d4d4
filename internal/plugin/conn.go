package plugin

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vambridge/internal/bridge"
	"vambridge/internal/logger"
	"vambridge/internal/protocol"
)

// Conn wraps one plugin TCP connection. Frames are read by a single receive
// loop; writes are serialized by a mutex so router forwards and handshake
// acknowledgements never interleave bytes on the socket.
type Conn struct {
	key      string
	sock     net.Conn
	registry *bridge.Registry
	router   *bridge.Router
	announce bridge.Announcer
	maxFrame uint32
	log      zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(sock net.Conn, registry *bridge.Registry, router *bridge.Router, announce bridge.Announcer, maxFrame uint32) *Conn {
	return &Conn{
		key:      uuid.NewString(),
		sock:     sock,
		registry: registry,
		router:   router,
		announce: announce,
		maxFrame: maxFrame,
		log:      logger.New(),
	}
}

// Key returns the connection's unique key.
func (c *Conn) Key() string {
	return c.key
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.sock.RemoteAddr().String()
}

// Send writes one framed payload to the plugin. Safe for concurrent use.
func (c *Conn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return protocol.WriteFrame(c.sock, payload)
}

// Close shuts the socket down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sock.Close()
	})
	return err
}

// readLoop drives the connection until EOF or a fatal framing error,
// deregistering and closing the connection on exit. Malformed JSON only
// discards the frame; the connection stays open.
func (c *Conn) readLoop() {
	defer func() {
		c.registry.Remove(bridge.SidePlugin, c)
		_ = c.Close()
	}()

	for {
		data, err := protocol.ReadFrame(c.sock, c.maxFrame)
		if err != nil {
			c.logReadEnd(err)
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("conn", c.key).
				Str("remote", c.RemoteAddr()).
				Msg("Discarding malformed plugin frame")
			continue
		}

		switch env.Cmd() {
		case protocol.CmdHello:
			c.handleHello(env)
		case protocol.CmdAcknowledge:
			// Consumed here, never routed.
			c.log.Debug().
				Str("conn", c.key).
				Msg("Plugin acknowledge received")
		default:
			c.router.Route(bridge.SidePlugin, env)
		}
	}
}

// handleHello registers the plugin's identity (overwriting on a repeated
// hello), acknowledges it, and announces the arrival to all browsers.
func (c *Conn) handleHello(env *protocol.Envelope) {
	id, _ := env.StringField("id")
	name, _ := env.StringField("name")
	version, _ := env.StringField("version")

	c.registry.Register(bridge.SidePlugin, c, bridge.Identity{ID: id, Name: name, Version: version})

	c.log.Info().
		Str("conn", c.key).
		Str("remote", c.RemoteAddr()).
		Str("id", id).
		Str("name", name).
		Msg("Plugin identified")

	ack, err := protocol.NewHelloAck(id, name).Marshal()
	if err != nil {
		c.log.Error().
			Err(err).
			Str("conn", c.key).
			Msg("Failed to build acknowledge")
		return
	}

	if err := c.Send(ack); err != nil {
		c.log.Warn().
			Err(err).
			Str("conn", c.key).
			Msg("Failed to send acknowledge")
		c.registry.Remove(bridge.SidePlugin, c)
		_ = c.Close()
		return
	}

	c.announce.Broadcast(ack)
}

func (c *Conn) logReadEnd(err error) {
	switch {
	case err == io.EOF:
		c.log.Info().
			Str("conn", c.key).
			Str("remote", c.RemoteAddr()).
			Msg("Plugin disconnected")
	case errors.Is(err, protocol.ErrFrameTooLarge):
		c.log.Warn().
			Err(err).
			Str("conn", c.key).
			Str("remote", c.RemoteAddr()).
			Msg("Closing plugin connection after oversized frame")
	case errors.Is(err, net.ErrClosed):
		// Closed by shutdown or by the router after a failed forward.
	default:
		c.log.Warn().
			Err(err).
			Str("conn", c.key).
			Str("remote", c.RemoteAddr()).
			Msg("Plugin read failed")
	}
}
