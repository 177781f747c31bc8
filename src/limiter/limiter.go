// Package limiter throttles inbound events per user with fixed windows.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more event is allowed for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// fixedWindow increments the counter of the current window and sets its
// expiry on the first hit.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// RedisLimiter is a fixed window limiter shared by every node using the same
// Redis.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit events per window and per key.
func NewRedisLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow implements the Limiter interface.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := fixedWindow.Run(ctx, l.rdb,
		[]string{fmt.Sprintf("limiter:%s:%s", l.prefix, key)},
		l.limit, l.window.Milliseconds()).Int()
	if err != nil {
		return false, common.NewErrMsg("Limiter", common.Unavailable, key, err.Error())
	}
	return res == 1, nil
}

type window struct {
	start time.Time
	count int
}

// InmemLimiter is a fixed window limiter local to the process.
type InmemLimiter struct {
	sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewInmemLimiter allows limit events per window and per key.
func NewInmemLimiter(limit int, w time.Duration) *InmemLimiter {
	return &InmemLimiter{
		limit:   limit,
		window:  w,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// SetClock replaces the clock of the limiter.
func (l *InmemLimiter) SetClock(now func() time.Time) {
	l.Lock()
	defer l.Unlock()
	l.now = now
}

// Allow implements the Limiter interface.
func (l *InmemLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.NewErrMsg("Limiter", common.Unavailable, key, err.Error())
	}

	l.Lock()
	defer l.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.sweep(now)
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit, nil
}

// sweep drops the windows that are over.
func (l *InmemLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}
