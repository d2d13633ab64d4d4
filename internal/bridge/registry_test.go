package bridge

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLookupRemove(t *testing.T) {
	reg := NewRegistry()
	conn := &fakeConn{key: "c1"}

	_, ok := reg.Lookup(SidePlugin, conn)
	assert.False(t, ok)

	reg.Register(SidePlugin, conn, Identity{ID: "A1", Name: "Plugin"})

	ident, ok := reg.Lookup(SidePlugin, conn)
	require.True(t, ok)
	assert.Equal(t, Identity{ID: "A1", Name: "Plugin"}, ident)
	assert.Equal(t, 1, reg.Count(SidePlugin))
	assert.Equal(t, 0, reg.Count(SideBrowser))

	reg.Remove(SidePlugin, conn)
	_, ok = reg.Lookup(SidePlugin, conn)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count(SidePlugin))

	// Removing again is a no-op.
	reg.Remove(SidePlugin, conn)
}

func TestRegistrySidesAreIndependent(t *testing.T) {
	reg := NewRegistry()
	conn := &fakeConn{key: "c1"}

	reg.Register(SidePlugin, conn, Identity{ID: "A1", Name: "Plugin"})

	_, ok := reg.Lookup(SideBrowser, conn)
	assert.False(t, ok)
	assert.Nil(t, reg.FindBySide(SideBrowser, "A1", "Plugin"))
}

func TestRegistryReHelloOverwrites(t *testing.T) {
	reg := NewRegistry()
	conn := &fakeConn{key: "c1"}

	reg.Register(SidePlugin, conn, Identity{ID: "A1", Name: "Plugin"})
	reg.Register(SidePlugin, conn, Identity{ID: "A2", Name: "Plugin"})

	ident, ok := reg.Lookup(SidePlugin, conn)
	require.True(t, ok)
	assert.Equal(t, "A2", ident.ID)
	assert.Equal(t, 1, reg.Count(SidePlugin))

	assert.Nil(t, reg.FindBySide(SidePlugin, "A1", "Plugin"))
	assert.Equal(t, conn, reg.FindBySide(SidePlugin, "A2", "Plugin"))
}

func TestFindBySideExactMatch(t *testing.T) {
	reg := NewRegistry()
	conn := &fakeConn{key: "c1"}
	reg.Register(SidePlugin, conn, Identity{ID: "A1", Name: "Plugin"})

	assert.Equal(t, conn, reg.FindBySide(SidePlugin, "A1", "Plugin"))
	assert.Nil(t, reg.FindBySide(SidePlugin, "a1", "Plugin"), "id match is case-sensitive")
	assert.Nil(t, reg.FindBySide(SidePlugin, "A1", "plugin"), "name match is case-sensitive")
	assert.Nil(t, reg.FindBySide(SidePlugin, "A1", ""), "both fields must match")
	assert.Nil(t, reg.FindBySide(SidePlugin, "B2", "Plugin"))
}

func TestFindBySideCollisionPicksMostRecent(t *testing.T) {
	reg := NewRegistry()
	first := &fakeConn{key: "first"}
	second := &fakeConn{key: "second"}

	reg.Register(SidePlugin, first, Identity{ID: "A1", Name: "Plugin"})
	reg.Register(SidePlugin, second, Identity{ID: "A1", Name: "Plugin"})
	assert.Equal(t, second, reg.FindBySide(SidePlugin, "A1", "Plugin"))

	// Re-registering bumps the connection back to most recent.
	reg.Register(SidePlugin, first, Identity{ID: "A1", Name: "Plugin"})
	assert.Equal(t, first, reg.FindBySide(SidePlugin, "A1", "Plugin"))

	reg.Remove(SidePlugin, first)
	assert.Equal(t, second, reg.FindBySide(SidePlugin, "A1", "Plugin"))
}

func TestRegistrySnapshot(t *testing.T) {
	reg := NewRegistry()
	a := &fakeConn{key: "a"}
	b := &fakeConn{key: "b"}

	reg.Register(SideBrowser, a, Identity{ID: "ui-1", Name: "Viewer"})
	reg.Register(SideBrowser, b, Identity{ID: "ui-2", Name: "Viewer"})

	snap := reg.Snapshot(SideBrowser)
	assert.Len(t, snap, 2)
	assert.ElementsMatch(t, []Conn{a, b}, snap)

	// The snapshot is a copy: mutating the registry afterwards does not
	// change it.
	reg.Remove(SideBrowser, a)
	assert.Len(t, snap, 2)
	assert.Len(t, reg.Snapshot(SideBrowser), 1)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := &fakeConn{key: fmt.Sprintf("c%d", n)}
			for j := 0; j < 100; j++ {
				reg.Register(SidePlugin, conn, Identity{ID: "A1", Name: "Plugin"})
				reg.FindBySide(SidePlugin, "A1", "Plugin")
				reg.Lookup(SidePlugin, conn)
				reg.Snapshot(SidePlugin)
				reg.Remove(SidePlugin, conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Count(SidePlugin))
}
