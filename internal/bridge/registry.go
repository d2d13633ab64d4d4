package bridge

import (
	"sync"
)

// Side selects one of the two transport surfaces tracked by the registry.
type Side int

const (
	SidePlugin Side = iota
	SideBrowser
)

func (s Side) String() string {
	switch s {
	case SidePlugin:
		return "plugin"
	case SideBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// Identity describes a peer as announced in its hello handshake. Plugin
// identities leave Version empty.
type Identity struct {
	ID      string
	Name    string
	Version string
}

// Conn is the transport-agnostic handle the registry and router operate on.
// Send must be safe for concurrent use from multiple goroutines; a non-nil
// error from Send means the connection is unusable and the caller closes
// and deregisters it.
type Conn interface {
	Key() string
	RemoteAddr() string
	Send(payload []byte) error
	Close() error
}

type entry struct {
	conn     Conn
	identity Identity
	seq      uint64
}

// Registry owns the connection-to-identity mapping for both sides of the
// bridge. Entries are created on handshake and removed on disconnect. All
// methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	seq   uint64
	sides map[Side]map[Conn]*entry
}

// NewRegistry creates an empty registry covering both sides.
func NewRegistry() *Registry {
	return &Registry{
		sides: map[Side]map[Conn]*entry{
			SidePlugin:  {},
			SideBrowser: {},
		},
	}
}

// Register stores the identity for conn, overwriting any previous identity.
// A repeated hello is tolerated, not rejected.
func (r *Registry) Register(side Side, conn Conn, identity Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.sides[side][conn] = &entry{conn: conn, identity: identity, seq: r.seq}
}

// Lookup returns the identity registered for conn.
func (r *Registry) Lookup(side Side, conn Conn) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sides[side][conn]
	if !ok {
		return Identity{}, false
	}
	return e.identity, true
}

// FindBySide returns the connection on side whose identity matches id and
// name exactly (case-sensitive). When several connections share the same
// identity the most recently registered one wins.
func (r *Registry) FindBySide(side Side, id, name string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, e := range r.sides[side] {
		if e.identity.ID != id || e.identity.Name != name {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.conn
}

// Remove drops conn's identity. Removing an unregistered connection is a
// no-op.
func (r *Registry) Remove(side Side, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sides[side], conn)
}

// Snapshot returns the currently registered connections on side.
func (r *Registry) Snapshot(side Side) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.sides[side]))
	for conn := range r.sides[side] {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of registered connections on side.
func (r *Registry) Count(side Side) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sides[side])
}
