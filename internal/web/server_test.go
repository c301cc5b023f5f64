package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, *httptest.Server, *atomic.Int64) {
	t.Helper()
	var clients atomic.Int64
	hub := NewHub(func(n int) { clients.Store(int64(n)) }, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "beacon_fixes_total 0\n")
	})
	s := NewServer(hub, metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return s, ts, &clients
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestFixesEndpoint(t *testing.T) {
	s, ts, _ := startServer(t)

	code, body := get(t, ts.URL+"/fixes")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"chairs":[]}`, body)

	s.Hub.Broadcast([]byte(`{"chairs":[{"bdaddr":"AA:BB","loc":[1,2],"heading":0,"accelTimeout":0}]}`))
	_, body = get(t, ts.URL+"/fixes")
	assert.Contains(t, body, "AA:BB")

	code, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "beacon_fixes_total")

	code, _ = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestWebsocketReceivesBroadcast(t *testing.T) {
	s, ts, clients := startServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return clients.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	msg := []byte(`{"chairs":[]}`)
	s.Hub.Broadcast(msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestWebsocketGetsLatestOnConnect(t *testing.T) {
	s, ts, _ := startServer(t)
	s.Hub.Broadcast([]byte(`{"chairs":[{"bdaddr":"late"}]}`))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(got), "late")
}

func TestClientCountDropsOnDisconnect(t *testing.T) {
	_, ts, clients := startServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return clients.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return clients.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}
