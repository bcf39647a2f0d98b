package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQueue connects to REDIS_TEST_URL and returns a queue on a unique
// key, skipping when no Redis is configured.
func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	client, err := Connect(context.Background(), url)
	require.NoError(t, err)

	key := "fcshare:test:" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(context.Background(), key)
		client.Close()
	})
	return NewRedisQueue(client, key)
}

func TestRedisQueue_FIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, q.Push(ctx, id))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"job-1", "job-2", "job-3"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRedisQueue_PopTimeout(t *testing.T) {
	q := newTestQueue(t)

	got, err := q.Pop(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, "redis://127.0.0.1:1/0")
	assert.Error(t, err)
}

func TestNewRedisQueue_DefaultKey(t *testing.T) {
	q := NewRedisQueue(nil, "")
	assert.Equal(t, DefaultKey, q.key)
}
