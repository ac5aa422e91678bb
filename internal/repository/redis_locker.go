package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes approval mutations across API replicas with
// SET NX PX leases.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	poll    time.Duration
}

// NewRedisLocker constructs a distributed locker. The lease ttl bounds how
// long a crashed holder blocks a key; timeout bounds how long callers wait.
func NewRedisLocker(client redis.UniversalClient, ttl, timeout time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RedisLocker{client: client, prefix: "lock:", ttl: ttl, timeout: timeout, poll: 25 * time.Millisecond}
}

// Lock acquires key or returns ErrConflict once the wait bound elapses.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.client == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "distributed lock unavailable")
	}
	redisKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "lock wait cancelled")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "acquire distributed lock")
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval request is busy, retry later")
		}
		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "lock wait cancelled")
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release on a detached context so a cancelled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
	}, nil
}
