package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/gopresence/internal/presence"
	"github.com/Tyrowin/gopresence/internal/protocol"
	"github.com/Tyrowin/gopresence/internal/syncbridge"
)

// Backend is how a session reads and mutates presence and how the result
// reaches connected clients.
type Backend interface {
	// Join pushes the initial state to client once user is authenticated.
	// The returned release func is called exactly once when the session ends.
	Join(ctx context.Context, client *Client, user string) (release func(), err error)
	// Set marks user in or out and propagates the change.
	Set(ctx context.Context, user string, in bool) error
	// Leave runs after a connection has been unregistered.
	Leave(ctx context.Context)
}

// localBackend keeps presence in memory and fans every change out through
// the hub.
type localBackend struct {
	hub *Hub
	set *presence.Set
}

func newLocalBackend(hub *Hub, set *presence.Set) *localBackend {
	return &localBackend{hub: hub, set: set}
}

func (b *localBackend) Join(_ context.Context, client *Client, user string) (func(), error) {
	payload, err := protocol.Encode(protocol.Snapshot(b.set.Snapshot(user)))
	if err != nil {
		return nil, err
	}
	client.enqueue(payload)
	return func() {}, nil
}

func (b *localBackend) Set(_ context.Context, user string, in bool) error {
	if in {
		b.set.MarkIn(user)
	} else {
		b.set.MarkOut(user)
	}
	b.hub.Broadcast()
	return nil
}

func (b *localBackend) Leave(context.Context) {
	b.hub.Broadcast()
}

// distributedBackend keeps presence in Redis. Changes reach clients through
// each session's own bridge subscription rather than a local broadcast.
type distributedBackend struct {
	store  *presence.Distributed
	bridge *syncbridge.Bridge
	logger *zap.Logger
}

func newDistributedBackend(store *presence.Distributed, bridge *syncbridge.Bridge, logger *zap.Logger) *distributedBackend {
	return &distributedBackend{store: store, bridge: bridge, logger: logger}
}

func (b *distributedBackend) Join(ctx context.Context, client *Client, user string) (func(), error) {
	sub, err := b.bridge.Subscribe(ctx, user, func(ev syncbridge.Event) {
		payload, ok := eventPayload(ev)
		if !ok {
			b.logger.Debug("Ignoring unexpected bridge event", zap.String("channel", ev.Channel))
			return
		}
		client.enqueue(payload)
	})
	if err != nil {
		return nil, err
	}

	release := func() {
		if err := sub.Close(); err != nil {
			b.logger.Debug("Error closing subscription", zap.String("user", user), zap.Error(err))
		}
	}

	snap, err := b.store.Snapshot(ctx, user)
	if err != nil {
		release()
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	for _, msg := range []any{
		protocol.CountUpdate{PeopleIn: snap.PeopleIn},
		protocol.FlagUpdate{ImIn: snap.ImIn},
	} {
		payload, err := protocol.Encode(msg)
		if err != nil {
			release()
			return nil, err
		}
		client.enqueue(payload)
	}
	return release, nil
}

func (b *distributedBackend) Set(ctx context.Context, user string, in bool) error {
	var err error
	if in {
		_, err = b.store.MarkIn(ctx, user)
	} else {
		_, err = b.store.MarkOut(ctx, user)
	}
	return err
}

// Leave does nothing: any change the departing session made has already been
// published.
func (b *distributedBackend) Leave(context.Context) {}

func eventPayload(ev syncbridge.Event) ([]byte, bool) {
	if n, ok := ev.Count(); ok {
		payload, err := protocol.Encode(protocol.CountUpdate{PeopleIn: n})
		return payload, err == nil
	}
	if in, ok := ev.Flag(); ok {
		payload, err := protocol.Encode(protocol.FlagUpdate{ImIn: in})
		return payload, err == nil
	}
	return nil, false
}
