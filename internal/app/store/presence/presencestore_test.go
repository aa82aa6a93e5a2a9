package presencestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	presencestore "github.com/dalemusser/coedit/internal/app/store/presence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *presencestore.Store {
	t.Helper()
	addr := os.Getenv("COEDIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COEDIT_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	prefix := "coedit_test_" + time.Now().Format("150405.000000")
	s := presencestore.New(rdb, prefix, time.Minute)
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func TestStore_PutListRemove(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Put(ctx, "c1", presencestore.Entry{
		ConnectionID: "conn-a", UserID: "alice", State: "active", Node: "n1", LastSeenAt: now,
	}))
	require.NoError(t, s.Put(ctx, "c1", presencestore.Entry{
		ConnectionID: "conn-b", UserID: "bob", State: "idle", Node: "n2", LastSeenAt: now.Add(-2 * time.Minute),
	}))

	list, err := s.List(ctx, "c1", now)
	require.NoError(t, err)
	require.Len(t, list, 1, "stale entry should be filtered")
	assert.Equal(t, "alice", list[0].UserID)

	require.NoError(t, s.Remove(ctx, "c1", "conn-a"))
	list, err = s.List(ctx, "c1", now)
	require.NoError(t, err)
	assert.Empty(t, list)
}
