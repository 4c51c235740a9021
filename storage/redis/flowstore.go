package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/trezcool/campus/core/otpflow"
)

// releaseLock deletes KEYS[1] only while it holds ARGV[1].
var releaseLock = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// FlowStore keeps flows as JSON values expiring with the flow TTL.
type FlowStore struct {
	client goredis.UniversalClient
	prefix string
}

var _ otpflow.Store = (*FlowStore)(nil)

func NewFlowStore(client goredis.UniversalClient) *FlowStore {
	return &FlowStore{
		client: client,
		prefix: "otpflow:",
	}
}

func (s *FlowStore) key(id string) string     { return s.prefix + id }
func (s *FlowStore) lockKey(id string) string { return s.prefix + "lock:" + id }

func (s *FlowStore) Get(ctx context.Context, id string) (*otpflow.Flow, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == goredis.Nil {
		return nil, otpflow.ErrFlowNotFound
	}
	if err != nil {
		return nil, wrapErr(err, "getting flow")
	}

	f := new(otpflow.Flow)
	if err = json.Unmarshal(val, f); err != nil {
		return nil, wrapErr(err, "decoding flow")
	}
	return f, nil
}

func (s *FlowStore) Save(ctx context.Context, f *otpflow.Flow, ttl time.Duration) error {
	data, err := json.Marshal(f)
	if err != nil {
		return wrapErr(err, "encoding flow")
	}
	if err = s.client.Set(ctx, s.key(f.ID), data, ttl).Err(); err != nil {
		return wrapErr(err, "saving flow")
	}
	return nil
}

func (s *FlowStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id), s.lockKey(id)).Err(); err != nil {
		return wrapErr(err, "deleting flow")
	}
	return nil
}

func (s *FlowStore) Acquire(ctx context.Context, id string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.lockKey(id), token, ttl).Result()
	if err != nil {
		return "", false, wrapErr(err, "acquiring flow lock")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *FlowStore) Release(ctx context.Context, id, token string) error {
	if err := releaseLock.Run(ctx, s.client, []string{s.lockKey(id)}, token).Err(); err != nil {
		return wrapErr(err, "releasing flow lock")
	}
	return nil
}
