package loadclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gopresence/test/testhelpers"
)

func TestRandomInterval(t *testing.T) {
	for range 100 {
		d := randomInterval(10*time.Millisecond, 30*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 30*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, randomInterval(5*time.Millisecond, 5*time.Millisecond))
}

func TestRunRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	err := Run(ctx, Config{URL: "ws://unused", Users: 1}, logger)
	require.Error(t, err)

	err = Run(ctx, Config{
		URL:         "ws://unused",
		Users:       1,
		Tokens:      []string{"token1"},
		MinInterval: time.Second,
		MaxInterval: time.Millisecond,
	}, logger)
	require.Error(t, err)
}

func TestRunTogglesAgainstServer(t *testing.T) {
	ts := testhelpers.StartLocalServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := Run(ctx, Config{
		URL:         ts.WSURL,
		Origin:      ts.Origin(),
		Users:       8,
		Tokens:      []string{"token1", "token2", "token3", "token4"},
		MinInterval: 10 * time.Millisecond,
		MaxInterval: 30 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	testhelpers.Eventually(t, func() bool { return ts.Hub().Count() == 0 }, "simulated users disconnected")
}

func TestUserFailsWhenServerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := User(ctx, 1, "token1", Config{URL: "ws://127.0.0.1:1/ws"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}
