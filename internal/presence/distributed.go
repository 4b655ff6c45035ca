package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/gopresence/internal/syncbridge"
)

const (
	flagIn  = "1"
	flagOut = "0"
)

// transitionScript swaps the user's flag, adjusts the counter only when the
// flag changed, and publishes the counter then the flag. Running it as one
// script keeps the order of published counts equal to the order of counter
// changes across processes.
//
// KEYS[1] flag key, KEYS[2] counter key.
// ARGV[1] new flag, ARGV[2] counter channel, ARGV[3] flag channel.
var transitionScript = redis.NewScript(`
local previous = redis.call('GETSET', KEYS[1], ARGV[1])
if not previous then
	previous = '0'
end
local count
if previous ~= ARGV[1] then
	if ARGV[1] == '1' then
		count = redis.call('INCR', KEYS[2])
	else
		count = redis.call('DECR', KEYS[2])
	end
else
	count = tonumber(redis.call('GET', KEYS[2]) or '0')
end
redis.call('PUBLISH', ARGV[2], tostring(count))
redis.call('PUBLISH', ARGV[3], ARGV[1])
return {previous, count}
`)

// Distributed keeps the counter and one flag per user in Redis and publishes
// every change on the sync bridge channels.
//
// The flag and the counter are still two writes. Redis does not roll back a
// script that fails after its first write, so such a failure leaves the
// counter out of step with the flags until the affected user toggles again.
// Both keys must live on the same Redis node.
type Distributed struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// NewDistributed creates a Redis-backed presence store.
func NewDistributed(rdb redis.UniversalClient, logger *zap.Logger) *Distributed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributed{rdb: rdb, logger: logger}
}

// MarkIn sets user's flag and, only if it was not already set, increments
// the counter. The current values are published either way.
func (d *Distributed) MarkIn(ctx context.Context, user string) (bool, error) {
	return d.transition(ctx, user, flagIn)
}

// MarkOut clears user's flag and, only if it was set, decrements the counter.
func (d *Distributed) MarkOut(ctx context.Context, user string) (bool, error) {
	return d.transition(ctx, user, flagOut)
}

func (d *Distributed) transition(ctx context.Context, user, flag string) (bool, error) {
	key := syncbridge.FlagChannel(user)

	res, err := transitionScript.Run(ctx, d.rdb,
		[]string{key, syncbridge.CountChannel},
		flag, syncbridge.CountChannel, key,
	).Slice()
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", user, flag, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("transition %s: unexpected reply %v", user, res)
	}
	previous, _ := res[0].(string)
	count, _ := res[1].(int64)

	changed := previous != flag
	if changed {
		d.logger.Debug("Presence changed",
			zap.String("user", user),
			zap.String("flag", flag),
			zap.Int64("people_in", count))
	}
	return changed, nil
}

// Count reads the shared counter.
func (d *Distributed) Count(ctx context.Context) (int, error) {
	n, err := d.count(ctx)
	return int(n), err
}

func (d *Distributed) count(ctx context.Context) (int64, error) {
	n, err := d.rdb.Get(ctx, syncbridge.CountChannel).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return n, nil
}

// IsIn reads user's shared flag.
func (d *Distributed) IsIn(ctx context.Context, user string) (bool, error) {
	v, err := d.rdb.Get(ctx, syncbridge.FlagChannel(user)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read flag for %s: %w", user, err)
	}
	return v == flagIn, nil
}

// Snapshot reads the counter and user's flag. The two reads are not atomic.
func (d *Distributed) Snapshot(ctx context.Context, user string) (Snapshot, error) {
	count, err := d.Count(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	in, err := d.IsIn(ctx, user)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{PeopleIn: count, ImIn: in}, nil
}
