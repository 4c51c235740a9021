package redisstore

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trezcool/campus/core/identity"
)

// Lockout counts failures with INCR; each failure restarts the cooldown window.
type Lockout struct {
	client      goredis.UniversalClient
	prefix      string
	maxAttempts int
	cooldown    time.Duration
}

var _ identity.Lockout = (*Lockout)(nil)

func NewLockout(client goredis.UniversalClient, maxAttempts int, cooldown time.Duration) *Lockout {
	return &Lockout{
		client:      client,
		prefix:      "lockout:",
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
	}
}

func (l *Lockout) Check(ctx context.Context, key string) error {
	if l.maxAttempts <= 0 {
		return nil
	}
	k := l.prefix + key

	var (
		count *goredis.StringCmd
		ttl   *goredis.DurationCmd
	)
	_, err := l.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		count = p.Get(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return wrapErr(err, "checking lockout")
	}

	n, err := count.Int()
	if err != nil {
		return wrapErr(err, "checking lockout")
	}
	if n >= l.maxAttempts {
		return &identity.LockedError{Key: key, RetryAfter: ttl.Val()}
	}
	return nil
}

func (l *Lockout) Fail(ctx context.Context, key string) error {
	k := l.prefix + key

	var count *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		count = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.cooldown)
		return nil
	})
	if err != nil {
		return wrapErr(err, "recording failed attempt")
	}
	if l.maxAttempts > 0 && int(count.Val()) >= l.maxAttempts {
		return &identity.LockedError{Key: key, RetryAfter: l.cooldown}
	}
	return nil
}

func (l *Lockout) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return wrapErr(err, "resetting lockout")
	}
	return nil
}
