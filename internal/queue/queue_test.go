package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEmail() *store.OutboundEmail {
	return &store.OutboundEmail{
		To: "lead@example.com", Subject: "Hi Ada", TextBody: "Welcome",
		SequenceID: "seq-1", EnrollmentID: "enr-1", StepID: "step-1", RecordID: "rec-1",
	}
}

// --- StoreQueue ---

func TestStoreQueue_Enqueue(t *testing.T) {
	s := newTestStore(t)
	q := NewStoreQueue(s)

	msg := sampleEmail()
	require.NoError(t, q.Enqueue(context.Background(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, schema.OutboundQueued, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())

	list, err := s.ListOutbound(context.Background(), store.OutboundFilter{EnrollmentID: "enr-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
	assert.Equal(t, "Hi Ada", list[0].Subject)
}

type failingStore struct {
	store.Store
}

func (f *failingStore) EnqueueOutbound(context.Context, *store.OutboundEmail) error {
	return errors.New("disk full")
}

func TestStoreQueue_ErrorIsQueueError(t *testing.T) {
	q := NewStoreQueue(&failingStore{})
	err := q.Enqueue(context.Background(), sampleEmail())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueue))
	assert.Contains(t, errors.Unwrap(err).Error(), "disk full")
}

// --- RedisQueue ---

type fakeRedis struct {
	redis.Cmdable
	pushed map[string][]string
	err    error
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.pushed == nil {
		f.pushed = make(map[string][]string)
	}
	for _, v := range values {
		f.pushed[key] = append([]string{string(v.([]byte))}, f.pushed[key]...)
	}
	return redis.NewIntResult(int64(len(f.pushed[key])), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestRedisQueue_EnqueuePushesJSON(t *testing.T) {
	fake := &fakeRedis{}
	q := newRedisQueue(fake, "")
	assert.Equal(t, DefaultRedisKey, q.Key())

	msg := sampleEmail()
	msg.CreatedAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(context.Background(), msg))
	require.NoError(t, q.Ping(context.Background()))

	require.Len(t, fake.pushed[DefaultRedisKey], 1)
	var got store.OutboundEmail
	require.NoError(t, json.Unmarshal([]byte(fake.pushed[DefaultRedisKey][0]), &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "lead@example.com", got.To)
	assert.Equal(t, schema.OutboundQueued, got.Status)
	assert.True(t, got.CreatedAt.Equal(msg.CreatedAt))
	assert.NoError(t, q.Close())
}

func TestRedisQueue_CustomKey(t *testing.T) {
	fake := &fakeRedis{}
	q := newRedisQueue(fake, "crm:mail")
	require.NoError(t, q.Enqueue(context.Background(), sampleEmail()))
	assert.Len(t, fake.pushed["crm:mail"], 1)
}

func TestRedisQueue_PushFailure(t *testing.T) {
	q := newRedisQueue(&fakeRedis{err: errors.New("READONLY")}, "k")
	err := q.Enqueue(context.Background(), sampleEmail())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueue))

	err = q.Ping(context.Background())
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueue))
}

func TestRedisQueue_Unreachable(t *testing.T) {
	q := NewRedisQueue(RedisConfig{Address: "127.0.0.1:1"})
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := q.Enqueue(ctx, sampleEmail())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueue))
}
