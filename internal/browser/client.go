package browser

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vambridge/internal/bridge"
	"vambridge/internal/logger"
	"vambridge/internal/protocol"
)

var (
	// ErrSendBufferFull reports a browser that is not draining its send
	// queue. The router treats it as a delivery failure.
	ErrSendBufferFull = errors.New("browser send buffer full")

	// ErrClientClosed reports a send to an already closed browser.
	ErrClientClosed = errors.New("browser connection closed")
)

// Client wraps one browser WebSocket connection. A dedicated write pump owns
// the socket for writes; Send only enqueues, so it never blocks the caller.
type Client struct {
	key  string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	closeOnce sync.Once
}

func newClient(ws *websocket.Conn, hub *Hub) *Client {
	return &Client{
		key:  uuid.NewString(),
		hub:  hub,
		ws:   ws,
		send: make(chan []byte, hub.queueSize),
		done: make(chan struct{}),
		log:  logger.New(),
	}
}

// Key returns the connection's unique key.
func (c *Client) Key() string {
	return c.key
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Send queues one payload for delivery as a text frame. It never blocks: a
// full queue returns ErrSendBufferFull and the message is not delivered.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// writePump drains the send queue onto the socket until the client closes.
func (c *Client) writePump() {
	for {
		select {
		case payload := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn().
					Err(err).
					Str("conn", c.key).
					Msg("Browser write failed")
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drives the connection until it drops, deregistering it on exit.
// Malformed JSON only discards the message; the connection stays open.
func (c *Client) readPump() {
	defer func() {
		c.hub.registry.Remove(bridge.SideBrowser, c)
		c.hub.removeClient(c)
		_ = c.Close()
	}()

	c.ws.SetReadLimit(c.hub.maxMessage)

	for {
		_, data, err := c.ws.ReadMessage()
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
				Msg("Discarding malformed browser message")
			continue
		}

		switch env.Cmd() {
		case protocol.CmdHello:
			c.handleHello(env)
		default:
			// Acknowledges included; only the plugin side consumes them.
			c.hub.router.Route(bridge.SideBrowser, env)
		}
	}
}

// handleHello registers the browser's identity (overwriting on a repeated
// hello) and acknowledges it.
func (c *Client) handleHello(env *protocol.Envelope) {
	id, _ := env.StringField("id")
	name, _ := env.StringField("name")
	version, _ := env.StringField("version")

	c.hub.registry.Register(bridge.SideBrowser, c, bridge.Identity{ID: id, Name: name, Version: version})

	c.log.Info().
		Str("conn", c.key).
		Str("remote", c.RemoteAddr()).
		Str("id", id).
		Str("name", name).
		Msg("Browser identified")

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
			Msg("Failed to queue acknowledge")
		_ = c.Close()
	}
}

func (c *Client) logReadEnd(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Info().
			Str("conn", c.key).
			Str("remote", c.RemoteAddr()).
			Msg("Browser disconnected")
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().
			Err(err).
			Str("conn", c.key).
			Str("remote", c.RemoteAddr()).
			Msg("Closing browser connection after oversized message")
	case errors.Is(err, net.ErrClosed):
		// Closed by shutdown or by the router after a failed delivery.
	default:
		c.log.Warn().
			Err(err).
			Str("conn", c.key).
			Str("remote", c.RemoteAddr()).
			Msg("Browser read failed")
	}
}
