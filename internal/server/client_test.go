package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := newTestClient(t)

	require.NotNil(t, client)
	assert.NotEmpty(t, client.ID())
	assert.NotNil(t, client.GetSendChan())
	assert.NotEqual(t, client.ID(), newTestClient(t).ID())
}

func TestClientSendChannelStartsEmpty(t *testing.T) {
	client := newTestClient(t)

	select {
	case <-client.GetSendChan():
		t.Error("Expected empty send channel but received a message")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestClientEnqueueAfterClose(t *testing.T) {
	client := newTestClient(t)

	require.True(t, client.enqueue([]byte(`{"people_in":0}`)))
	client.Close(1000, "")
	assert.False(t, client.enqueue([]byte(`{"people_in":1}`)))
}

func TestClientCloseKeepsFirstStatus(t *testing.T) {
	client := newTestClient(t)

	client.Close(1011, AuthFailedReason)
	client.Close(1000, "")

	assert.Equal(t, 1011, client.closeCode)
	assert.Equal(t, AuthFailedReason, client.closeReason)
	<-client.Done()
}

func TestClientRateLimiterUsesConfig(t *testing.T) {
	cfg := *NewConfig()
	cfg.RateLimit.Burst = 2
	cfg.RateLimit.RefillInterval = time.Hour
	client := NewClient(nil, "127.0.0.1:1", cfg, nil)

	assert.True(t, client.limiter.Allow())
	assert.True(t, client.limiter.Allow())
	assert.False(t, client.limiter.Allow())
}
