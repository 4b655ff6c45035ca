package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	// ErrTransportClosed means the peer went away. It ends a session but is
	// not a failure.
	ErrTransportClosed = errors.New("transport closed")

	// ErrIdentityBound is returned when an identity is bound to a connection
	// that already has one.
	ErrIdentityBound = errors.New("identity already bound")

	// ErrNotRegistered is returned when binding an identity to a connection
	// the registry does not know.
	ErrNotRegistered = errors.New("connection not registered")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// classifyReadError maps a websocket read error to ErrTransportClosed when the
// peer simply went away, and wraps anything else.
func classifyReadError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, websocket.ErrReadLimit):
		return fmt.Errorf("message exceeded read limit: %w", err)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("read deadline exceeded: %w", err)
		}
		return fmt.Errorf("websocket read: %w", err)
	}
}
