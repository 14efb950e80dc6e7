package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := FromRaw(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestNewDialsAndNamespaces(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	client, err := New(context.Background(), config.RedisConfig{
		Address:   addr,
		KeyPrefix: "staging",
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "staging:lock:cron-worker", client.LockKey("cron-worker"))

	srv.Close()
	_, err = New(context.Background(), config.RedisConfig{Address: addr}, nil)
	assert.Error(t, err)
}

func TestSetNXAndGet(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "k", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "k", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", value)
	assert.Equal(t, time.Minute, srv.TTL("k"))

	_, err = client.Get(ctx, "missing")
	assert.True(t, IsNil(err))
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()

	assert.ErrorIs(t, client.Ping(ctx), errNotInitialized)
	_, err := client.Get(ctx, "k")
	assert.ErrorIs(t, err, errNotInitialized)
	_, err = client.Subscribe(ctx, "x")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.ErrorIs(t, client.Publish(ctx, "x", "wake"), errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestSubscribeReceivesPublish(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := client.ChannelName("outbox")
	sub, err := client.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, channel, "wake"))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wake", msg.Payload)
	assert.Equal(t, channel, msg.Channel)
}

func TestCompareAndDeleteOnlyRemovesOwnValue(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	key := client.LockKey("cron-worker")
	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := client.CompareAndDelete(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, srv.Exists(key), "key should survive a foreign compare-and-delete")

	removed, err = client.CompareAndDelete(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, srv.Exists(key))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6390/2", DB: 5, PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6390", opts.Addr)
	assert.Equal(t, 2, opts.DB, "the URL database wins over the field")
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3, DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, time.Second, opts.DialTimeout)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "er:idempotency:intelligence-workers:id", client.IdempotencyKey("intelligence-workers", "id"))
	assert.Equal(t, "er:lock:outbox-retention", client.LockKey("outbox-retention"))
	assert.Equal(t, "er:channel:outbox:notify", client.ChannelName("outbox:notify"))
	assert.Equal(t, "er:idempotency:id", client.IdempotencyKey(" ", "id"))

	scoped := &Client{keys: keyspace("prod")}
	assert.Equal(t, "prod:lock:x", scoped.LockKey("x"))
}
