// Package server coordinates connection registration, identity binding, and
// presence fan-out for the WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Tyrowin/gopresence/internal/presence"
	"github.com/Tyrowin/gopresence/internal/protocol"
)

// SnapshotSource computes the per-recipient view at send time.
type SnapshotSource interface {
	Snapshot(user string) presence.Snapshot
}

// Hub is the connection registry. It tracks every live connection and the
// identity bound to it, and fans presence snapshots out to all of them.
// Fan-outs are serialized by the Run loop so a recipient never receives an
// older snapshot after a newer one.
type Hub struct {
	clients    map[*Client]struct{}
	identities map[*Client]string
	snapshots  SnapshotSource
	broadcast  chan struct{}
	mutex      sync.RWMutex
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	startOnce  sync.Once
}

// NewHub creates a Hub. snapshots may be nil when presence updates reach
// clients some other way; Broadcast is then a no-op.
func NewHub(snapshots SnapshotSource, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		identities: make(map[*Client]string),
		snapshots:  snapshots,
		broadcast:  make(chan struct{}, 64),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register adds an unauthenticated connection to the active set.
func (h *Hub) Register(client *Client) {
	if client == nil {
		h.logger.Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("Client registered",
		zap.String("client", client.id),
		zap.String("addr", client.addr),
		zap.Int("total_clients", clientCount))
}

// BindIdentity records the authenticated user for a registered connection.
// A connection is bound at most once.
func (h *Hub) BindIdentity(client *Client, user string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return ErrNotRegistered
	}
	if _, ok := h.identities[client]; ok {
		return ErrIdentityBound
	}
	h.identities[client] = user
	return nil
}

// Unregister removes client from the active set and the identity map.
// Removing an unknown client is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	delete(h.identities, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if ok {
		h.logger.Info("Client unregistered",
			zap.String("client", client.id),
			zap.String("addr", client.addr),
			zap.Int("total_clients", clientCount))
	}
}

// IdentityOf returns the user bound to client, if any.
func (h *Hub) IdentityOf(client *Client) (string, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	user, ok := h.identities[client]
	return user, ok
}

// Active returns a snapshot of all registered connections. The slice is not
// affected by later registrations or removals.
func (h *Hub) Active() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return lo.Keys(h.clients)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ConnectionsOf counts live connections bound to user.
func (h *Hub) ConnectionsOf(user string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return lo.CountBy(lo.Values(h.identities), func(bound string) bool {
		return bound == user
	})
}

// Broadcast asks the Run loop to push a fresh snapshot to every connection.
func (h *Hub) Broadcast() {
	if h.snapshots == nil {
		return
	}
	select {
	case h.broadcast <- struct{}{}:
	case <-h.ctx.Done():
	}
}

// Run processes broadcast requests until Stop is called. It should be
// called in its own goroutine.
func (h *Hub) Run() {
	started := false
	h.startOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.broadcast:
			h.broadcastNow()
		}
	}
}

func (h *Hub) broadcastNow() {
	clients := h.Active()
	delivered := h.fanOut(clients)
	h.logger.Debug("Broadcast presence snapshot",
		zap.Int("clients", len(clients)),
		zap.Int("delivered", delivered))
}

// fanOut sends each client its own snapshot. Unauthenticated clients are
// skipped and a failed send to one client does not affect the others.
func (h *Hub) fanOut(clients []*Client) int {
	delivered := 0
	for _, client := range clients {
		user, ok := h.IdentityOf(client)
		if !ok {
			continue
		}
		payload, err := protocol.Encode(protocol.Snapshot(h.snapshots.Snapshot(user)))
		if err != nil {
			h.logger.Error("Failed to encode snapshot", zap.Error(err))
			continue
		}
		if !client.enqueue(payload) {
			h.logger.Debug("Dropped snapshot for closed or slow client", zap.String("client", client.id))
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes every registered connection with the given close frame.
func (h *Hub) CloseAll(code int, reason string) int {
	clients := h.Active()
	for _, client := range clients {
		client.Close(code, reason)
	}
	h.logger.Info("Closed client connections", zap.Int("count", len(clients)))
	return len(clients)
}

// Stop ends the Run loop and waits up to timeout for it to exit.
func (h *Hub) Stop(timeout time.Duration) error {
	h.cancel()

	started := true
	h.startOnce.Do(func() { started = false })
	if !started {
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
