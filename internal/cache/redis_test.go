package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/config"
)

func newTestClient(t *testing.T) *RedisClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return NewRedisClient(config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
}

func TestSetGetRoundTrip(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	require.NoError(t, client.Set(ctx, "k1", payload{Name: "router"}, time.Minute))

	var got payload
	require.NoError(t, client.Get(ctx, "k1", &got))
	assert.Equal(t, "router", got.Name)
}

func TestGetMissingKeyReturnsRedisNil(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()

	var got string
	err := client.Get(context.Background(), "missing", &got)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestDelete(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k2", "value", time.Minute))
	require.NoError(t, client.Delete(ctx, "k2"))

	var got string
	err := client.Get(ctx, "k2", &got)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestPublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "chan1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "chan1", []byte("hello")))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Payload)
}

func TestPing(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()))
}
