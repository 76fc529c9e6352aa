package queue

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// DefaultRedisKey is the list consumers BRPOP from.
const DefaultRedisKey = "sequencer:outbound"

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// RedisQueue pushes JSON-encoded emails onto a Redis list.
type RedisQueue struct {
	client redis.Cmdable
	closer func() error
	key    string
}

// NewRedisQueue connects a RedisQueue. The connection is lazy; call Ping to check it.
func NewRedisQueue(cfg RedisConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	q := newRedisQueue(client, cfg.Key)
	q.closer = client.Close
	return q
}

func newRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// Key returns the list name.
func (q *RedisQueue) Key() string { return q.key }

// Enqueue LPUSHes msg onto the list.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *store.OutboundEmail) error {
	prepare(msg)
	payload, err := json.Marshal(msg)
	if err != nil {
		return schema.NewError(schema.ErrCodeQueue, "encode outbound email").WithCause(err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeQueue, "push to %s", q.key).WithCause(err)
	}
	return nil
}

// Ping checks the connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return schema.NewError(schema.ErrCodeQueue, "redis unreachable").WithCause(err)
	}
	return nil
}

// Close closes the underlying client when the queue owns it.
func (q *RedisQueue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
