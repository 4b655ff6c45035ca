// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the landing page.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gopresence/internal/presence"
	"github.com/Tyrowin/gopresence/internal/syncbridge"
)

// Server wires the registry, the credential store, and a presence backend
// behind the HTTP routes.
type Server struct {
	cfg      Config
	hub      *Hub
	creds    Authenticator
	backend  Backend
	presence *presence.Set
	upgrader websocket.Upgrader
	logger   *zap.Logger
	sessions sync.WaitGroup
}

// NewLocal creates a server that keeps presence in memory.
func NewLocal(cfg *Config, creds Authenticator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := presence.NewSet()
	hub := NewHub(set, logger.Named("hub"))
	s := newServer(cfg, creds, hub, newLocalBackend(hub, set), logger)
	s.presence = set
	return s
}

// NewDistributed creates a server that keeps presence in Redis and relays
// changes between processes through bridge.
func NewDistributed(cfg *Config, creds Authenticator, store *presence.Distributed, bridge *syncbridge.Bridge, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := NewHub(nil, logger.Named("hub"))
	return newServer(cfg, creds, hub, newDistributedBackend(store, bridge, logger.Named("bridge")), logger)
}

func newServer(cfg *Config, creds Authenticator, hub *Hub, backend Backend, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Server{
		cfg:     *cfg,
		hub:     hub,
		creds:   creds,
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		logger: logger,
	}
}

// Start launches the hub loop. It must be called before serving requests.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info("Hub started and ready to manage WebSocket connections",
		zap.String("mode", string(s.cfg.Mode)),
		zap.String("disconnect_policy", string(s.cfg.DisconnectPolicy)))
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Presence returns the in-memory presence set, or nil in distributed mode.
func (s *Server) Presence() *presence.Set {
	return s.presence
}

// WebSocketHandler upgrades the request and runs the session on the
// handler goroutine until the connection ends.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg, s.logger)

	s.sessions.Add(2)
	go func() {
		defer s.sessions.Done()
		client.writePump()
	}()
	defer s.sessions.Done()

	session := newSession(client, s.hub, s.creds, s.backend, s.cfg.DisconnectPolicy)
	if err := session.Run(r.Context()); err != nil {
		client.logger.Info("Session ended", zap.Error(err))
	}
}

// Shutdown closes every connection with 1001 going-away and waits up to
// timeout for sessions to finish. The HTTP listener should already be shut
// down so no new sessions start.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("Initiating hub shutdown...")
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Hub shutdown timeout reached, some sessions may still be running")
		err = context.DeadlineExceeded
	}

	if stopErr := s.hub.Stop(timeout); stopErr != nil && err == nil {
		err = stopErr
	}
	if err == nil {
		s.logger.Info("Hub shutdown completed successfully")
	}
	return err
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "ok")
}

// IndexHandler serves the landing page with the in/out controls.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, indexHTML); err != nil {
		s.logger.Debug("Error writing HTML response", zap.Error(err))
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Who's in?</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #count { font-size: 48px; margin: 20px 0; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:disabled { background-color: #999; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Who's in?</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="token" placeholder="token">
        <button id="connect" onclick="connect()">Connect</button>
    </div>
    <div id="count">-</div>
    <div>
        <button id="in" onclick="send(true)" disabled>I'm in</button>
        <button id="out" onclick="send(false)" disabled>I'm out</button>
        <span id="me"></span>
    </div>

    <script>
        let ws = null;
        const statusDiv = document.getElementById('status');

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.getElementById('in').disabled = !connected;
            document.getElementById('out').disabled = !connected;
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                ws.send(JSON.stringify({token: document.getElementById('token').value}));
                setConnected(true);
            };
            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                if ('people_in' in msg) {
                    document.getElementById('count').textContent = msg.people_in;
                }
                if ('im_in' in msg) {
                    document.getElementById('me').textContent = msg.im_in ? "You're in" : "You're out";
                }
            };
            ws.onclose = function(event) {
                setConnected(false);
                if (event.code === 1011) {
                    statusDiv.textContent = 'Authentication failed';
                }
                ws = null;
            };
        }

        function send(imIn) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({im_in: imIn}));
            }
        }
    </script>
</body>
</html>`
