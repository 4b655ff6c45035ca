package integration

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gopresence/internal/server"
	"github.com/Tyrowin/gopresence/test/testhelpers"
)

func TestHealthEndpointIntegration(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, nil)

	resp, err := http.Get(ts.HTTP.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestWebSocketOriginValidation(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://allowed.example"}
	})

	conn, status, err := testhelpers.ConnectWebSocket(ts.WSURL, "http://evil.example")
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, http.StatusForbidden, status)

	conn, status, err = testhelpers.ConnectWebSocket(ts.WSURL, "")
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, http.StatusForbidden, status)

	conn, status, err = testhelpers.ConnectWebSocket(ts.WSURL, "http://allowed.example")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, status)
}

func TestWebSocketMessageSizeLimit(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 64
	})

	conn, _ := testhelpers.Login(t, ts, "token1")
	testhelpers.SendRaw(t, conn, `{"im_in": true, "padding": "`+string(make([]byte, 128))+`"}`)

	closeErr := testhelpers.ExpectClose(t, conn)
	assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
}

func TestWebSocketRateLimiting(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, func(cfg *server.Config) {
		cfg.RateLimit.Burst = 2
		cfg.RateLimit.RefillInterval = time.Hour
	})

	// The token message uses one unit of the burst.
	conn, _ := testhelpers.Login(t, ts, "token1")
	testhelpers.SendJSON(t, conn, map[string]any{"im_in": true})
	testhelpers.SendJSON(t, conn, map[string]any{"im_in": false})

	assert.Equal(t, float64(1), testhelpers.ReceiveJSON(t, conn)["people_in"])
	testhelpers.ExpectNoMessage(t, conn, 150*time.Millisecond)
	assert.True(t, ts.Presence().IsIn("dominik"), "throttled message was dropped")
}

func TestConcurrentClients(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, nil)
	tokens := []string{"token1", "token2", "token3", "token4"}

	const numClients = 40
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i], _ = testhelpers.Login(t, ts, tokens[i%len(tokens)])
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			_ = conn.WriteJSON(map[string]any{"im_in": i%2 == 0})
		}(i, conn)
	}
	wg.Wait()

	// token1 and token3 users only ever send true, token2 and token4 only false.
	testhelpers.Eventually(t, func() bool { return ts.Presence().Count() == 2 }, "two users in")
	assert.True(t, ts.Presence().IsIn("dominik"))
	assert.True(t, ts.Presence().IsIn("wiktor"))
	assert.False(t, ts.Presence().IsIn("ela"))
	assert.False(t, ts.Presence().IsIn("maja"))

	for _, conn := range conns {
		testhelpers.ReceiveUntil(t, conn, testhelpers.PeopleIn(2))
	}
}

func TestGracefulShutdownClosesClients(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, nil)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i], _ = testhelpers.Login(t, ts, "token2")
	}
	pending := testhelpers.Dial(t, ts)
	testhelpers.Eventually(t, func() bool { return ts.Hub().Count() == 4 }, "all clients registered")

	require.NoError(t, ts.Shutdown(2*time.Second))

	for _, conn := range append(conns, pending) {
		closeErr := testhelpers.ExpectClose(t, conn)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}
	assert.Equal(t, 0, ts.Hub().Count())
}
