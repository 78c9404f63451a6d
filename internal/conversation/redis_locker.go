package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	phoneLockPrefix    = "phone_lock:"
	defaultLockTTL     = 45 * time.Second
	defaultLockRetry   = 100 * time.Millisecond
	lockReleaseTimeout = 2 * time.Second
)

// releaseScript deletes the key only if it still holds our token, so an expired
// lock re-acquired by another worker is never released by the previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointed at the same Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	tracer trace.Tracer
}

// RedisLockerOption customizes a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockWait caps how long Lock waits for a contended key.
func WithLockWait(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.wait = d
		}
	}
}

// WithLockRetryInterval sets the polling interval while waiting for a key.
func WithLockRetryInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// NewRedisLocker creates a locker whose keys expire after ttl if the holder dies.
func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...RedisLockerOption) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	l := &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
		retry:  defaultLockRetry,
		tracer: otel.Tracer("dealer.internal.conversation.phone_lock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, span := l.tracer.Start(ctx, "conversation.phone_lock.acquire", trace.WithAttributes(
		attribute.String("lock.key", key),
	))
	defer span.End()

	redisKey := phoneLockPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	attempts := 0

	for {
		attempts++
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: acquire phone lock: %w", err)
		}
		if ok {
			span.SetAttributes(attribute.Int("lock.attempts", attempts))
			// The key is refreshed while held so a slow turn keeps exclusive access.
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(redisKey, token, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.release(redisKey, token)
				})
			}, nil
		}
		if !time.Now().Before(deadline) {
			span.SetAttributes(attribute.Bool("lock.timeout", true))
			return nil, ErrLockNotAcquired
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			held, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				// Lost to expiry; the new owner's key is not ours to extend.
				return
			}
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer cancel()
	// A failed release only delays the next turn until the key expires.
	_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
}
