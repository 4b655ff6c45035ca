// Package testhelpers provides common utilities for end-to-end tests of the
// presence server: starting servers, dialing WebSocket clients, and reading
// presence updates with deadlines.
package testhelpers

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gopresence/internal/auth"
	"github.com/Tyrowin/gopresence/internal/server"
)

// ReadTimeout bounds every blocking read in helpers.
const ReadTimeout = 2 * time.Second

// TestServer is a running presence server behind httptest.
type TestServer struct {
	*server.Server
	HTTP  *httptest.Server
	WSURL string
}

// Origin is the Origin header value accepted by the server.
func (ts *TestServer) Origin() string {
	return ts.HTTP.URL
}

// NewConfig returns the default config with the test origin allowed.
func NewConfig(customize func(cfg *server.Config)) *server.Config {
	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.RateLimit.Burst = 100
	if customize != nil {
		customize(cfg)
	}
	return cfg
}

// StartLocalServer starts an in-memory presence server.
func StartLocalServer(t *testing.T, customize func(cfg *server.Config)) *TestServer {
	t.Helper()
	cfg := NewConfig(customize)
	srv := server.NewLocal(cfg, auth.NewStore(cfg.Tokens), zaptest.NewLogger(t))
	return Serve(t, srv)
}

// Serve starts srv behind an httptest server and shuts both down on cleanup.
func Serve(t *testing.T, srv *server.Server) *TestServer {
	t.Helper()
	srv.Start()
	httpServer := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		httpServer.Close()
		_ = srv.Shutdown(time.Second)
	})
	return &TestServer{
		Server: srv,
		HTTP:   httpServer,
		WSURL:  "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws",
	}
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection and the handshake response status, or an error if connection fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// Dial connects to ts and registers the connection for cleanup.
func Dial(t *testing.T, ts *TestServer) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(ts.WSURL, ts.Origin())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Login dials ts, authenticates with token, and returns the connection
// together with the first message the server pushed.
func Login(t *testing.T, ts *TestServer, token string) (*websocket.Conn, map[string]any) {
	t.Helper()
	conn := Dial(t, ts)
	SendJSON(t, conn, map[string]any{"token": token})
	return conn, ReceiveJSON(t, conn)
}

// SendJSON writes v as a single text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// SendRaw writes data as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReceiveJSON reads one message and decodes it into a map.
func ReceiveJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// ReceiveUntil reads messages until match returns true and returns the
// matching message. Non-matching messages are discarded.
func ReceiveUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(ReadTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg map[string]any
		err := conn.ReadJSON(&msg)
		require.NoError(t, err, "no matching message before deadline")
		if match(msg) {
			return msg
		}
	}
}

// PeopleIn matches messages reporting count people in.
func PeopleIn(count int) func(map[string]any) bool {
	return func(msg map[string]any) bool {
		n, ok := msg["people_in"].(float64)
		return ok && int(n) == count
	}
}

// ExpectNoMessage fails if a message arrives within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// ExpectClose reads until the connection closes and returns the close frame.
func ExpectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close frame, got %v", err)
		return closeErr
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually waits for cond to hold, polling every 10ms.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, ReadTimeout, 10*time.Millisecond, msg)
}
