// Package loadclient simulates many users connecting to the presence server
// and randomly toggling their status.
package loadclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls a simulation run.
type Config struct {
	URL         string
	Origin      string
	Users       int
	Tokens      []string
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Run starts cfg.Users simulated users and blocks until ctx is cancelled or
// one of them fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if len(cfg.Tokens) == 0 {
		return errors.New("at least one token is required")
	}
	if cfg.MaxInterval < cfg.MinInterval {
		return fmt.Errorf("max interval %s is shorter than min interval %s", cfg.MaxInterval, cfg.MinInterval)
	}

	g, ctx := errgroup.WithContext(ctx)
	for n := 1; n <= cfg.Users; n++ {
		token := cfg.Tokens[rand.IntN(len(cfg.Tokens))]
		g.Go(func() error {
			return User(ctx, n, token, cfg, logger.With(zap.Int("n", n)))
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// User connects once with token, logs every received message, and sends a
// random in/out message after every random interval.
func User(ctx context.Context, n int, token string, cfg Config, logger *zap.Logger) error {
	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("user %d: dial: %w", n, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		return fmt.Errorf("user %d: send token: %w", n, err)
	}
	logger.Info("<<< logged in")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("user %d: read: %w", n, err)
			}
			logger.Info("<<< received", zap.ByteString("message", msg))
		}
	})
	g.Go(func() error {
		defer func() { _ = conn.Close() }()
		return toggle(ctx, conn, cfg, logger)
	})
	return g.Wait()
}

func toggle(ctx context.Context, conn *websocket.Conn, cfg Config, logger *zap.Logger) error {
	for {
		timer := time.NewTimer(randomInterval(cfg.MinInterval, cfg.MaxInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		in := rand.IntN(2) == 0
		if in {
			logger.Info(">>> I'm in!")
		} else {
			logger.Info(">>> I'm out!")
		}
		if err := conn.WriteJSON(map[string]bool{"im_in": in}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send status: %w", err)
		}
	}
}

func randomInterval(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
