// Package syncbridge relays presence mutations between server processes over
// Redis pub/sub. Every process publishes its local mutations and each session
// subscribes to the two channels that describe its own view.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CountChannel carries the global people-in counter.
const CountChannel = "global-count"

const (
	flagPrefix = "user:"
	flagSuffix = "-flag"
)

// FlagChannel returns the channel carrying user's in/out flag.
func FlagChannel(user string) string {
	return flagPrefix + user + flagSuffix
}

// Event is a single value received on a subscribed channel.
type Event struct {
	Channel string
	Value   string
}

// Count parses the event as a counter update.
func (e Event) Count() (int, bool) {
	if e.Channel != CountChannel {
		return 0, false
	}
	n, err := strconv.Atoi(e.Value)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Flag parses the event as a user flag update.
func (e Event) Flag() (bool, bool) {
	if !strings.HasPrefix(e.Channel, flagPrefix) || !strings.HasSuffix(e.Channel, flagSuffix) {
		return false, false
	}
	switch e.Value {
	case "1", "true":
		return true, true
	case "0", "false", "":
		return false, true
	default:
		return false, false
	}
}

// Bridge publishes and subscribes on behalf of sessions.
type Bridge struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// New creates a bridge on top of an existing Redis client.
func New(rdb redis.UniversalClient, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{rdb: rdb, logger: logger}
}

// Publish sends value on channel.
func (b *Bridge) Publish(ctx context.Context, channel, value string) error {
	if err := b.rdb.Publish(ctx, channel, value).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription to the count channel and user's flag
// channel. It returns once Redis has confirmed the subscription, so any value
// published afterwards is delivered. deliver is called from a single
// goroutine in publish order per channel.
func (b *Bridge) Subscribe(ctx context.Context, user string, deliver func(Event)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.rdb.Subscribe(ctx, CountChannel, FlagChannel(user))

	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe for %s: %w", user, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.relay(ctx, deliver, b.logger.With(zap.String("user", user)))
	return sub, nil
}

// Subscription is one session's view of the shared channels.
type Subscription struct {
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) relay(ctx context.Context, deliver func(Event), logger *zap.Logger) {
	defer close(s.done)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Debug("Relaying presence event",
				zap.String("channel", msg.Channel),
				zap.String("value", msg.Payload))
			deliver(Event{Channel: msg.Channel, Value: msg.Payload})
		}
	}
}

// Close cancels the subscription. It does not wait for the relay goroutine;
// use Done for that. Closing twice is a no-op.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if cerr := s.pubsub.Close(); cerr != nil && !errors.Is(cerr, redis.ErrClosed) {
			err = cerr
		}
	})
	return err
}

// Done is closed when the relay goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
