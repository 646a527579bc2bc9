package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ai_session", "abc|1|2", time.Hour))

	got, err := store.Get(ctx, "ai_session")
	require.NoError(t, err)
	assert.Equal(t, "abc|1|2", got)

	exists, err := store.Exists(ctx, "ai_session")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "ai_session"))
	exists, err = store.Exists(ctx, "ai_session")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, "ai_session")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInMemoryStoreExpiration(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	exists, _ := store.Exists(ctx, "k")
	assert.True(t, exists)

	now = now.Add(2 * time.Minute)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInMemoryStoreDefaultTTL(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	store.SetTTL(time.Second)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	now = now.Add(2 * time.Second)
	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func TestRedisMemory(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()

	store, err := NewRedisMemory(ctx, "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "ai_session", "id|10|20", time.Hour))
	assert.True(t, mr.Exists("insights:ai_session"), "keys are namespaced")

	raw, err := mr.Get("insights:ai_session")
	require.NoError(t, err)
	assert.Equal(t, "id|10|20", raw, "values are stored verbatim")

	got, err := store.Get(ctx, "ai_session")
	require.NoError(t, err)
	assert.Equal(t, "id|10|20", got)

	exists, err := store.Exists(ctx, "ai_session")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "ai_session"))
	_, err = store.Get(ctx, "ai_session")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisMemoryTTL(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()

	store, err := NewRedisMemory(ctx, "redis://"+mr.Addr(), "app")
	require.NoError(t, err)
	defer store.Close()

	store.SetTTL(time.Minute)
	require.NoError(t, store.Set(ctx, "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("app:k"))

	mr.FastForward(2 * time.Minute)
	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewRedisMemoryErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisMemory(ctx, "://not-a-url", "")
	assert.Error(t, err)

	mr := setupMiniredis(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisMemory(ctx, "redis://"+addr, "")
	assert.Error(t, err)
}
