package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/cache"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
)

func newTestRedis(t *testing.T) *cache.RedisClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return cache.NewRedisClient(config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
}

type event struct {
	Kind string `json:"kind"`
}

func TestPublishSubscribeRoundTripWithValidSignature(t *testing.T) {
	redisClient := newTestRedis(t)
	defer redisClient.Close()

	secret := []byte("bus-secret")
	minter := jwtauth.NewMinter(secret, "intellirouter/router", "intellirouter/bus")
	verifier := jwtauth.NewVerifier(secret, "intellirouter/router", "intellirouter/bus", 5*time.Second)

	bus := NewBus(redisClient, minter, verifier, "router", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := bus.Subscribe(ctx, "role-events")
	time.Sleep(20 * time.Millisecond) // let the subscription establish, as in internal/cache's own pubsub test

	require.NoError(t, bus.Publish(ctx, "role-events", event{Kind: "model_registered"}))

	select {
	case msg := <-messages:
		assert.Equal(t, "router", msg.Service)
		var got event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "model_registered", got.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSubscribeDropsEnvelopeWithInvalidSignature(t *testing.T) {
	redisClient := newTestRedis(t)
	defer redisClient.Close()

	publisherSecret := []byte("publisher-secret")
	subscriberSecret := []byte("subscriber-secret")

	publisherMinter := jwtauth.NewMinter(publisherSecret, "intellirouter/router", "intellirouter/bus")
	publisherBus := NewBus(redisClient, publisherMinter, nil, "router", time.Minute, nil)

	subscriberVerifier := jwtauth.NewVerifier(subscriberSecret, "intellirouter/router", "intellirouter/bus", 5*time.Second)
	subscriberBus := NewBus(redisClient, nil, subscriberVerifier, "chain-engine", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := subscriberBus.Subscribe(ctx, "role-events")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, publisherBus.Publish(ctx, "role-events", event{Kind: "should_be_dropped"}))

	// a second, validly-signed publish on the subscriber's own trust root
	// confirms the first message was dropped rather than merely delayed
	sameSecretMinter := jwtauth.NewMinter(subscriberSecret, "intellirouter/router", "intellirouter/bus")
	validBus := NewBus(redisClient, sameSecretMinter, nil, "router", time.Minute, nil)
	require.NoError(t, validBus.Publish(ctx, "role-events", event{Kind: "should_arrive"}))

	select {
	case msg := <-messages:
		var got event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "should_arrive", got.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the validly-signed message")
	}
}
