// Package locks serializes work on a shared key across requests. RedisLocker
// coordinates every process that shares a Redis; LocalLocker covers a single
// process when Redis is not configured.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
)

// Release gives a held lock back. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker acquires exclusive locks on keys
type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
}

// Config tunes lock acquisition
type Config struct {
	Prefix string
	// TTL bounds how long a crashed holder keeps the key
	TTL time.Duration
	// Wait bounds how long Lock retries before reporting a conflict
	Wait         time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns defaults sized for one invitation round trip
func DefaultConfig() Config {
	return Config{
		Prefix:       "trellis:lock",
		TTL:          30 * time.Second,
		Wait:         5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.Wait <= 0 {
		c.Wait = d.Wait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as Redis keys set with NX and a TTL
type RedisLocker struct {
	client *redis.Client
	config Config
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client, config Config) *RedisLocker {
	return &RedisLocker{client: client, config: config.withDefaults()}
}

// Lock blocks until key is acquired, the wait elapses or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (Release, error) {
	const op = "locks.lock"
	redisKey := l.config.Prefix + ":" + key
	token := uuid.NewString()

	// The wait runs on its own timer. A deadline on ctx would also become the
	// socket deadline of the SetNX in flight and surface as a transport error.
	deadline := time.NewTimer(l.config.Wait)
	defer deadline.Stop()

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if ctx.Err() != nil || expired(ctx) {
				return nil, apperr.Conflict(op, "%s is busy, try again", key)
			}
			return nil, apperr.Transport(op, "failed to acquire lock", err)
		}
		if ok {
			return l.release(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Conflict(op, "%s is busy, try again", key)
		case <-deadline.C:
			return nil, apperr.Conflict(op, "%s is busy, try again", key)
		case <-ticker.C:
		}
	}
}

// expired reports whether ctx's deadline has passed. The client can time out
// on that deadline slightly before ctx itself is marked done.
func expired(ctx context.Context) bool {
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}

func (l *RedisLocker) release(redisKey, token string) Release {
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			var n int64
			n, err = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int64()
			if err != nil {
				err = apperr.Transport("locks.release", "failed to release lock", err)
				return
			}
			if n == 0 {
				err = apperr.Conflict("locks.release", "lock %s expired before release", redisKey)
			}
		})
		return err
	}
}

// LocalLocker is an in-process keyed mutex
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localEntry
	wait time.Duration
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker. Lock gives up after wait.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = DefaultConfig().Wait
	}
	return &LocalLocker{keys: make(map[string]*localEntry), wait: wait}
}

// Lock blocks until key is acquired, the wait elapses or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, apperr.Conflict("locks.lock", "%s is busy, try again", key)
	case <-timer.C:
		l.unref(key, e)
		return nil, apperr.Conflict("locks.lock", "%s is busy, try again", key)
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
		return nil
	}, nil
}

func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports how many keys have waiters or holders
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
