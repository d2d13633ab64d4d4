// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vambridge/internal/bridge"
	"vambridge/internal/protocol"
)

func startDaemon(t *testing.T) *Daemon {
	t.Helper()

	config := bridge.NewDefaultConfig()
	config.Plugin.Listen = "127.0.0.1:0"
	config.Browser.Listen = "127.0.0.1:0"

	d := NewDaemon(config)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func dialPlugin(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func pluginSend(t *testing.T, conn net.Conn, payload string) {
	t.Helper()
	require.NoError(t, protocol.WriteFrame(conn, []byte(payload)))
}

func pluginRead(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := protocol.ReadFrame(conn, 0)
	require.NoError(t, err)
	return data
}

func pluginExpectSilence(t *testing.T, conn net.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err := protocol.ReadFrame(conn, 0)
	require.Error(t, err, "plugin should not receive anything")
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func dialBrowser(t *testing.T, addr string) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func browserSend(t *testing.T, ws *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func browserRead(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return data
}

func browserExpectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err, "browser should not receive anything")
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestDaemonStartStop(t *testing.T) {
	config := bridge.NewDefaultConfig()
	config.Plugin.Listen = "127.0.0.1:0"
	config.Browser.Listen = "127.0.0.1:0"

	d := NewDaemon(config)
	require.NoError(t, d.Start())
	assert.True(t, d.IsRunning())

	err := d.Start()
	assert.Error(t, err, "second start should fail while running")

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())
	assert.NoError(t, d.Stop(), "stop is idempotent")
}

func TestDaemonStatus(t *testing.T) {
	d := startDaemon(t)

	status := d.GetStatus()
	assert.Equal(t, true, status["running"])
	assert.Equal(t, 0, status["plugins"])
	assert.Equal(t, 0, status["browsers"])
	assert.Equal(t, d.PluginAddr(), status["plugin_address"])
	assert.Equal(t, d.BrowserAddr(), status["browser_address"])
}

func TestBridgeEndToEnd(t *testing.T) {
	d := startDaemon(t)

	// Two browsers identify themselves. Acknowledgements go only to the
	// sender, not to the other browser.
	ws1 := dialBrowser(t, d.BrowserAddr())
	browserSend(t, ws1, `{"cmd":"hello","id":"ui-1","name":"dashboard"}`)
	assert.JSONEq(t, `{"cmd":"acknowledge","ack":"hello","id":"ui-1","name":"dashboard"}`, string(browserRead(t, ws1)))

	ws2 := dialBrowser(t, d.BrowserAddr())
	browserSend(t, ws2, `{"cmd":"hello","id":"ui-2","name":"dashboard"}`)
	assert.JSONEq(t, `{"cmd":"acknowledge","ack":"hello","id":"ui-2","name":"dashboard"}`, string(browserRead(t, ws2)))

	// A third connection never identifies itself and receives nothing below.
	ws3 := dialBrowser(t, d.BrowserAddr())

	// The plugin identifies itself; its acknowledgement is announced to
	// every identified browser.
	conn := dialPlugin(t, d.PluginAddr())
	pluginSend(t, conn, `{"cmd":"hello","id":"p1","name":"vam-plugin","version":"2.1"}`)
	ack := pluginRead(t, conn)
	assert.JSONEq(t, `{"cmd":"acknowledge","ack":"hello","id":"p1","name":"vam-plugin"}`, string(ack))
	announce := browserRead(t, ws1)
	assert.JSONEq(t, string(ack), string(announce))
	assert.JSONEq(t, string(ack), string(browserRead(t, ws2)))

	// The announcement names the plugin, so a browser echoing it addresses
	// the plugin and the echo is forwarded to it.
	browserSend(t, ws1, string(announce))
	assert.JSONEq(t, string(announce), string(pluginRead(t, conn)))

	// Plugin traffic broadcasts verbatim to the identified browsers.
	statusMsg := `{"cmd":"status_update","fps":60}`
	pluginSend(t, conn, statusMsg)
	assert.Equal(t, statusMsg, string(browserRead(t, ws1)))
	assert.Equal(t, statusMsg, string(browserRead(t, ws2)))
	browserExpectSilence(t, ws3)

	// Browser traffic forwards to the addressed plugin, normalized.
	browserSend(t, ws1, `{"cmd":"update","id":"p1","name":"vam-plugin","morphs":[{"id":"smile","value":1}]}`)
	assert.JSONEq(t,
		`{"cmd":"read_all_morphs","id":"p1","name":"vam-plugin","morphs":[{"id":"smile","value":1}]}`,
		string(pluginRead(t, conn)))

	// Result traffic passes through byte for byte.
	resultMsg := `{"cmd":"sync_result","id":"p1","name":"vam-plugin","morphs":{"smile":1}}`
	browserSend(t, ws2, resultMsg)
	assert.Equal(t, resultMsg, string(pluginRead(t, conn)))

	// Addressing an unknown plugin routes nowhere.
	browserSend(t, ws1, `{"cmd":"poke","id":"ghost","name":"vam-plugin"}`)
	pluginExpectSilence(t, conn)

	// Plugin disconnect deregisters it; browsers stay usable.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return d.GetStatus()["plugins"].(int) == 0
	}, 2*time.Second, 10*time.Millisecond)

	browserSend(t, ws1, `{"cmd":"poke","id":"p1","name":"vam-plugin"}`)
	browserSend(t, ws1, `{"cmd":"hello","id":"ui-1","name":"dashboard"}`)
	assert.JSONEq(t, `{"cmd":"acknowledge","ack":"hello","id":"ui-1","name":"dashboard"}`, string(browserRead(t, ws1)))
}

func TestBridgeReHelloReroutesTraffic(t *testing.T) {
	d := startDaemon(t)

	ws := dialBrowser(t, d.BrowserAddr())
	browserSend(t, ws, `{"cmd":"hello","id":"ui-1","name":"dashboard"}`)
	browserRead(t, ws)

	conn := dialPlugin(t, d.PluginAddr())
	pluginSend(t, conn, `{"cmd":"hello","id":"p1","name":"alpha"}`)
	pluginRead(t, conn)
	browserRead(t, ws)

	// After the plugin renames itself the old identity no longer matches.
	pluginSend(t, conn, `{"cmd":"hello","id":"p1","name":"beta"}`)
	pluginRead(t, conn)
	browserRead(t, ws)

	browserSend(t, ws, `{"cmd":"poke","id":"p1","name":"alpha"}`)
	pluginExpectSilence(t, conn)

	browserSend(t, ws, `{"cmd":"poke","id":"p1","name":"beta"}`)
	assert.JSONEq(t, `{"cmd":"poke","id":"p1","name":"beta"}`, string(pluginRead(t, conn)))
}
