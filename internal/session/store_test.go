package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/repairguide-backend/internal/domain"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "s1", CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "s1", CredentialKey, "abc123"))
	v, ok, err := kv.Get(ctx, "s1", CredentialKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	_, ok, err = kv.Get(ctx, "s2", CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok, "sessions must not share scope")

	require.NoError(t, kv.Remove(ctx, "s1", CredentialKey))
	_, ok, err = kv.Get(ctx, "s1", CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, kv.Remove(ctx, "s1", CredentialKey), "removing a missing key is fine")
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV(time.Hour))
}

func TestMemoryKVExpires(t *testing.T) {
	kv := NewMemoryKV(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(context.Background(), "s", "k", "v"))
	now = now.Add(2 * time.Minute)
	_, ok, err := kv.Get(context.Background(), "s", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	kv := NewRedisKV(rdb, "rgtest", time.Hour)
	exerciseKV(t, kv)

	require.NoError(t, kv.Set(context.Background(), "s9", CredentialKey, "k"))
	assert.True(t, mr.Exists("rgtest:s9:"+CredentialKey))
	assert.Equal(t, time.Hour, mr.TTL("rgtest:s9:"+CredentialKey))

	mr.FastForward(2 * time.Hour)
	_, ok, err := kv.Get(context.Background(), "s9", CredentialKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(NewMemoryKV(0), "s1")

	cred, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, cred.Empty())

	require.NoError(t, store.Save(ctx, domain.Credential("abc123")))
	cred, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", cred.Reveal())

	require.NoError(t, store.Clear(ctx))
	cred, err = store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, cred.Empty())
}
