package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gopresence/internal/auth"
	"github.com/Tyrowin/gopresence/internal/protocol"
)

// AuthFailedReason is the close reason sent with CloseInternalServerErr (1011)
// when the first message carries a bad token.
const AuthFailedReason = "authentication failed"

// Authenticator resolves a token to a username.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticating
	stateActive
	stateAuthFailed
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateActive:
		return "active"
	case stateAuthFailed:
		return "auth_failed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives one connection through
// connecting -> authenticating -> active -> closed, or
// authenticating -> auth_failed -> closed.
type Session struct {
	client  *Client
	hub     *Hub
	creds   Authenticator
	backend Backend
	policy  DisconnectPolicy
	logger  *zap.Logger

	state   sessionState
	user    string
	release func()
}

func newSession(client *Client, hub *Hub, creds Authenticator, backend Backend, policy DisconnectPolicy) *Session {
	return &Session{
		client:  client,
		hub:     hub,
		creds:   creds,
		backend: backend,
		policy:  policy,
		logger:  client.logger,
		state:   stateConnecting,
	}
}

func (s *Session) transition(next sessionState) {
	s.logger.Debug("Session state change",
		zap.Stringer("from", s.state),
		zap.Stringer("to", next))
	s.state = next
}

// Run blocks until the connection ends. Cleanup runs on every exit path. A
// peer disconnect returns nil; an authentication failure returns an error
// wrapping auth.ErrAuthentication.
func (s *Session) Run(ctx context.Context) error {
	s.hub.Register(s.client)
	defer s.close(ctx)

	s.client.setupReadConnection()
	s.transition(stateAuthenticating)

	if err := s.authenticate(ctx); err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			s.transition(stateAuthFailed)
			s.logger.Info("Authentication failed", zap.Error(err))
			s.client.Close(websocket.CloseInternalServerErr, AuthFailedReason)
			return err
		}
		return ignoreTransportClosed(err)
	}

	s.transition(stateActive)
	return ignoreTransportClosed(s.serve(ctx))
}

func (s *Session) authenticate(ctx context.Context) error {
	data, err := s.client.readMessage()
	if err != nil {
		return err
	}

	token, err := protocol.DecodeAuth(data)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrAuthentication, err)
	}
	user, err := s.creds.Authenticate(token)
	if err != nil {
		return err
	}

	if err := s.hub.BindIdentity(s.client, user); err != nil {
		return fmt.Errorf("bind identity: %w", err)
	}
	s.user = user
	s.logger = s.logger.With(zap.String("user", user))

	release, err := s.backend.Join(ctx, s.client, user)
	if err != nil {
		return fmt.Errorf("join presence: %w", err)
	}
	s.release = release
	s.logger.Info("Client authenticated")
	return nil
}

func (s *Session) serve(ctx context.Context) error {
	for {
		data, err := s.client.readMessage()
		if err != nil {
			return err
		}

		cmd := protocol.DecodeCommand(data)
		switch cmd.Kind {
		case protocol.MarkIn:
			err = s.backend.Set(ctx, s.user, true)
		case protocol.MarkOut:
			err = s.backend.Set(ctx, s.user, false)
		default:
			s.logger.Debug("Ignoring unrecognized message")
			continue
		}

		if err != nil {
			s.logger.Warn("Presence update failed", zap.Stringer("command", cmd.Kind), zap.Error(err))
			continue
		}
		s.logger.Debug("Presence updated", zap.Stringer("command", cmd.Kind))
	}
}

// close releases everything the session acquired. Cleanup is detached from
// ctx so it still runs while the server is shutting down.
func (s *Session) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	wasActive := s.state == stateActive
	s.transition(stateClosed)

	if s.release != nil {
		s.release()
	}
	s.hub.Unregister(s.client)

	if wasActive && s.policy == PolicyAutoOut && s.hub.ConnectionsOf(s.user) == 0 {
		if err := s.backend.Set(ctx, s.user, false); err != nil {
			s.logger.Warn("Auto mark-out failed", zap.Error(err))
		}
	}
	s.backend.Leave(ctx)

	s.client.Close(websocket.CloseNormalClosure, "")
	s.logger.Info("Session closed")
}

func ignoreTransportClosed(err error) error {
	if errors.Is(err, ErrTransportClosed) {
		return nil
	}
	return err
}
