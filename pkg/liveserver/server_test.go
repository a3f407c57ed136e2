package liveserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, origins []string) (*Server, *Hub) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, nil, Options{AllowedOrigins: origins})
	return server, hub
}

func serve(t *testing.T, server *Server) *httptest.Server {
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server, query, origin string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, headers)
}

func TestNewServer(t *testing.T) {
	hub := NewHub(nil)
	allowedOrigins := []string{"http://localhost:8081"}
	server := NewServer(hub, nil, Options{AllowedOrigins: allowedOrigins, StaticDir: "web"})

	assert.NotNil(t, server)
	assert.Equal(t, hub, server.hub)
	assert.Equal(t, allowedOrigins, server.origins.allowed)
	assert.Equal(t, "web", server.staticDir)
	assert.Equal(t, 1000, cap(server.gate.slots))
}

func TestServerWebSocketConnectAndDisconnect(t *testing.T) {
	server, hub := newTestServer(t, []string{"*"})
	ts := serve(t, server)

	ws, _, err := dialWS(t, ts, "", "http://test.local")
	require.NoError(t, err)
	waitForClients(t, hub, 1)

	ws.Close()
	waitForClients(t, hub, 0)
}

func TestServerReceivesTargetedBroadcasts(t *testing.T) {
	server, hub := newTestServer(t, []string{"*"})
	ts := serve(t, server)

	ws, _, err := dialWS(t, ts, "?target=SPX:dte0", "http://test.local")
	require.NoError(t, err)
	defer ws.Close()
	waitForClients(t, hub, 1)

	server.Broadcast(NewSnapshotMessage("QQQ:dte0", map[string]interface{}{"atm_strike": "510"}))
	server.Broadcast(NewSnapshotMessage("SPX:dte0", map[string]interface{}{"atm_strike": "6000"}))

	var received Message
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&received))

	assert.Equal(t, TypeSnapshot, received.Type)
	assert.Equal(t, "SPX:dte0", received.Target)
	data, ok := received.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "6000", data["atm_strike"])
}

func TestServerGreetsNewClients(t *testing.T) {
	server, _ := newTestServer(t, []string{"*"})
	var asked string
	server.SetOnConnect(func(target string) []Message {
		asked = target
		return []Message{NewStatusMessage(target, map[string]interface{}{"stale": false})}
	})
	ts := serve(t, server)

	ws, _, err := dialWS(t, ts, "?target=SPX:friday", "http://test.local")
	require.NoError(t, err)
	defer ws.Close()

	var received Message
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&received))
	assert.Equal(t, TypeStatus, received.Type)
	assert.Equal(t, "SPX:friday", received.Target)
	assert.Equal(t, "SPX:friday", asked)
}

func TestServerHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil)
	ts := serve(t, server)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	server.SetHealthCheck(func() (bool, map[string]string) {
		return false, map[string]string{"SPX:dte0": "stale: gateway down"}
	})
	ts2 := serve(t, server)
	resp, err = http.Get(ts2.URL + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "gateway down")
}

func TestServerAPIRoutes(t *testing.T) {
	server, _ := newTestServer(t, nil)
	server.HandleAPI("/echo", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"symbol": r.URL.Query().Get("symbol")})
	}, http.MethodGet)
	ts := serve(t, server)

	resp, err := http.Get(ts.URL + "/api/v1/echo?symbol=SPX")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"symbol":"SPX"}`, string(body))

	resp, err = http.Post(ts.URL+"/api/v1/echo", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerAPICompression(t *testing.T) {
	server, _ := newTestServer(t, nil)
	payload := strings.Repeat(`{"strike":"6000","call_vol":1200},`, 200)
	server.HandleAPI("/big", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	})
	ts := serve(t, server)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/big", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip;q=0.5, zstd")
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "zstd", resp.Header.Get("Content-Encoding"))
	compressed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload)/4)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, string(plain))
}

func TestAcceptsZstd(t *testing.T) {
	assert.True(t, acceptsZstd("zstd"))
	assert.True(t, acceptsZstd("gzip, ZSTD;q=0.8"))
	assert.False(t, acceptsZstd("gzip, br"))
	assert.False(t, acceptsZstd("zstd;q=0"))
	assert.False(t, acceptsZstd(""))
}

func TestServerStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>chainwatch</h1>"), 0o644))

	hub, _ := runHub(t)
	server := NewServer(hub, nil, Options{StaticDir: dir})
	ts := serve(t, server)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "chainwatch")

	// API routes are not shadowed by the file server
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	server, _ := newTestServer(t, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, addr, server.Address())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		production bool
		origin     string
		want       string
	}{
		{"allowed origin", []string{"http://localhost:8080"}, false, "http://localhost:8080", ""},
		{"path ignored", []string{"http://localhost:8080"}, false, "http://localhost:8080/dashboard", ""},
		{"unauthorized", []string{"http://localhost:8080"}, false, "http://evil.com", rejectOrigin},
		{"missing origin", []string{"http://localhost:8080"}, false, "", rejectMissingOrigin},
		{"not a url", []string{"*"}, false, "::nonsense", rejectOrigin},
		{"wildcard", []string{"*"}, false, "http://anything.local", ""},
		{"wildcard in production", []string{"*"}, true, "http://anything.local", rejectOrigin},
		{"explicit origin in production", []string{"*", "https://b.local"}, true, "https://b.local", ""},
		{"second of many", []string{"http://a.local", "https://b.local"}, false, "https://b.local", ""},
		{"scheme mismatch", []string{"https://b.local"}, false, "http://b.local", rejectOrigin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := originPolicy{allowed: tt.allowed, production: tt.production}
			assert.Equal(t, tt.want, p.check(tt.origin))
		})
	}
}

func TestServerSubscribeSwitchesTarget(t *testing.T) {
	server, hub := newTestServer(t, []string{"*"})
	server.SetOnConnect(func(target string) []Message {
		return []Message{NewStatusMessage(target, map[string]interface{}{"greeting": target})}
	})
	ts := serve(t, server)

	ws, _, err := dialWS(t, ts, "?target=SPX:dte0", "http://test.local")
	require.NoError(t, err)
	defer ws.Close()
	waitForClients(t, hub, 1)

	read := func() Message {
		var m Message
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.ReadJSON(&m))
		return m
	}
	assert.Equal(t, "SPX:dte0", read().Target)

	require.NoError(t, ws.WriteJSON(ClientRequest{Action: ActionSubscribe, Target: "QQQ:dte0"}))
	greeting := read()
	assert.Equal(t, TypeStatus, greeting.Type)
	assert.Equal(t, "QQQ:dte0", greeting.Target)

	server.Broadcast(NewSnapshotMessage("SPX:dte0", "old"))
	server.Broadcast(NewSnapshotMessage("QQQ:dte0", "new"))
	assert.Equal(t, "new", read().Data)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"unsubscribe"}`)))
	assert.Equal(t, TypeError, read().Type)
}
