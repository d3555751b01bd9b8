package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/calvin1011/watchtower/internal/clock/system"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedis(Config{Address: mr.Addr(), TTL: ttl, KeyPrefix: "watchtower:seen:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisUnseenAndMarkSeen(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	urls := []string{"https://a.example.com/1", "", "https://a.example.com/2"}

	got, err := store.Unseen(ctx, urls)
	require.NoError(t, err)
	require.Equal(t, urls, got)

	require.NoError(t, store.MarkSeen(ctx, []string{"https://a.example.com/1/", ""}))
	got, err = store.Unseen(ctx, urls)
	require.NoError(t, err)
	require.Equal(t, []string{"", "https://a.example.com/2"}, got)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.Contains(t, keys[0], "watchtower:seen:")
	require.Equal(t, time.Hour, mr.TTL(keys[0]))

	mr.FastForward(2 * time.Hour)
	got, err = store.Unseen(ctx, urls)
	require.NoError(t, err)
	require.Equal(t, urls, got)
	require.NoError(t, store.Ping(ctx))
}

func TestRedisEmptyInputs(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t, time.Hour)
	got, err := store.Unseen(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, store.MarkSeen(context.Background(), []string{""}))
	require.Empty(t, mr.Keys())
}

func TestNewRedisErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRedis(Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedis(Config{Address: addr})
	require.ErrorContains(t, err, "redis ping failed")
}

func TestRedisUnavailableAfterConnect(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := NewRedis(Config{Address: mr.Addr(), TTL: time.Hour})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	mr.Close()
	_, err = store.Unseen(context.Background(), []string{"https://a.example.com"})
	require.Error(t, err)
	require.Error(t, store.MarkSeen(context.Background(), []string{"https://a.example.com"}))
}

func TestMemoryExpiresEntries(t *testing.T) {
	t.Parallel()

	clock := system.NewFixed(time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC))
	store := NewMemory(24*time.Hour, clock)
	ctx := context.Background()

	require.NoError(t, store.MarkSeen(ctx, []string{"https://a.example.com/x", ""}))
	got, err := store.Unseen(ctx, []string{"https://a.example.com/x/", "https://a.example.com/y"})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example.com/y"}, got)

	clock.Advance(25 * time.Hour)
	got, err = store.Unseen(ctx, []string{"https://a.example.com/x"})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example.com/x"}, got)
}
