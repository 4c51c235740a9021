package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/trezcool/campus/core"
)

// New connects to the configured Redis and checks that it answers.
func New(ctx context.Context, conf core.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// wrapErr reports a closed client as a shutdown error: no later request can succeed.
func wrapErr(err error, msg string) error {
	if errors.Is(err, goredis.ErrClosed) {
		return errors.Wrap(core.NewShutdownError("redis client closed"), msg)
	}
	return errors.Wrap(err, msg)
}
