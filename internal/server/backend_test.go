package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gopresence/internal/presence"
	"github.com/Tyrowin/gopresence/internal/syncbridge"
)

func readRaw(t *testing.T, client *Client) map[string]any {
	t.Helper()
	select {
	case payload := <-client.GetSendChan():
		var msg map[string]any
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s received nothing", client.ID())
		return nil
	}
}

func TestLocalBackendJoinPushesOwnSnapshot(t *testing.T) {
	set := presence.NewSet()
	hub := NewHub(set, zaptest.NewLogger(t))
	backend := newLocalBackend(hub, set)
	set.MarkIn("ela")

	client := newAuthedClient(t, hub, "ela")
	release, err := backend.Join(context.Background(), client, "ela")
	require.NoError(t, err)
	release()

	assert.Equal(t, map[string]any{"people_in": float64(1), "im_in": true}, readRaw(t, client))
}

func TestLocalBackendSetBroadcasts(t *testing.T) {
	set := presence.NewSet()
	hub := NewHub(set, zaptest.NewLogger(t))
	backend := newLocalBackend(hub, set)
	go hub.Run()
	defer func() { _ = hub.Stop(time.Second) }()

	a := newAuthedClient(t, hub, "dominik")
	b := newAuthedClient(t, hub, "ela")

	require.NoError(t, backend.Set(context.Background(), "dominik", true))
	assert.Equal(t, map[string]any{"people_in": float64(1), "im_in": true}, readRaw(t, a))
	assert.Equal(t, map[string]any{"people_in": float64(1), "im_in": false}, readRaw(t, b))

	require.NoError(t, backend.Set(context.Background(), "dominik", true))
	assert.Equal(t, float64(1), readRaw(t, a)["people_in"], "marking in twice does not double count")
	readRaw(t, b)

	backend.Leave(context.Background())
	assert.Equal(t, float64(1), readRaw(t, b)["people_in"])
}

func newTestDistributedBackend(t *testing.T) *distributedBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zaptest.NewLogger(t)
	bridge := syncbridge.New(rdb, logger)
	store := presence.NewDistributed(rdb, logger)
	return newDistributedBackend(store, bridge, logger)
}

func TestDistributedBackendJoinPushesSplitState(t *testing.T) {
	backend := newTestDistributedBackend(t)
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "maja", true))

	client := newTestClient(t)
	release, err := backend.Join(ctx, client, "maja")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, map[string]any{"people_in": float64(1)}, readRaw(t, client))
	assert.Equal(t, map[string]any{"im_in": true}, readRaw(t, client))
}

func TestDistributedBackendRelaysOnlyOwnSlice(t *testing.T) {
	backend := newTestDistributedBackend(t)
	ctx := context.Background()

	dominik := newTestClient(t)
	releaseDominik, err := backend.Join(ctx, dominik, "dominik")
	require.NoError(t, err)
	defer releaseDominik()

	ela := newTestClient(t)
	releaseEla, err := backend.Join(ctx, ela, "ela")
	require.NoError(t, err)
	defer releaseEla()

	// initial state
	readRaw(t, dominik)
	readRaw(t, dominik)
	readRaw(t, ela)
	readRaw(t, ela)

	require.NoError(t, backend.Set(ctx, "dominik", true))

	assert.Equal(t, map[string]any{"people_in": float64(1)}, readRaw(t, dominik))
	assert.Equal(t, map[string]any{"im_in": true}, readRaw(t, dominik))

	assert.Equal(t, map[string]any{"people_in": float64(1)}, readRaw(t, ela))
	select {
	case payload := <-ela.GetSendChan():
		t.Fatalf("ela should not see dominik's flag: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDistributedBackendReleaseStopsDelivery(t *testing.T) {
	backend := newTestDistributedBackend(t)
	ctx := context.Background()

	client := newTestClient(t)
	release, err := backend.Join(ctx, client, "wiktor")
	require.NoError(t, err)
	readRaw(t, client)
	readRaw(t, client)

	release()
	release()

	require.NoError(t, backend.Set(ctx, "wiktor", true))
	select {
	case payload := <-client.GetSendChan():
		t.Fatalf("released subscription still delivered: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventPayload(t *testing.T) {
	payload, ok := eventPayload(syncbridge.Event{Channel: syncbridge.CountChannel, Value: "4"})
	require.True(t, ok)
	assert.JSONEq(t, `{"people_in": 4}`, string(payload))

	payload, ok = eventPayload(syncbridge.Event{Channel: syncbridge.FlagChannel("ela"), Value: "0"})
	require.True(t, ok)
	assert.JSONEq(t, `{"im_in": false}`, string(payload))

	_, ok = eventPayload(syncbridge.Event{Channel: "other", Value: "1"})
	assert.False(t, ok)
}
