// Package pubsub implements the third SecureIPC primitive (spec §4.5):
// Redis pub/sub with publish(channel, bytes)/subscribe(channel) ->
// Stream<bytes>, where every message is envelope-signed with the same
// JWT mechanism role-to-role gRPC calls use, and subscribers silently
// drop messages whose envelope fails validation.
package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/cache"
	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
)

// Envelope is the signed wrapper every published message travels in.
// Token is a JWT minted the same way a gRPC call's metadata token is;
// Verify reuses jwtauth.Verifier so both transports share one trust
// root.
type Envelope struct {
	Token     string          `json:"token"`
	Service   string          `json:"service"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Bus publishes and subscribes to channels on the shared Redis client,
// signing outgoing envelopes with minter and validating incoming ones
// with verifier.
type Bus struct {
	redis    *cache.RedisClient
	minter   *jwtauth.Minter
	verifier *jwtauth.Verifier
	service  string
	tokenTTL time.Duration
	logger   *logrus.Logger
}

// NewBus builds a Bus. verifier may be nil to accept every envelope
// without signature validation (local/dev configurations with
// ipc.security.enabled = false).
func NewBus(redis *cache.RedisClient, minter *jwtauth.Minter, verifier *jwtauth.Verifier, service string, tokenTTL time.Duration, logger *logrus.Logger) *Bus {
	return &Bus{redis: redis, minter: minter, verifier: verifier, service: service, tokenTTL: tokenTTL, logger: logger}
}

// Publish signs payload into an Envelope and publishes it on channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	env := Envelope{Service: b.service, Payload: body, Timestamp: time.Now().UnixMilli()}
	if b.minter != nil {
		token, err := b.minter.Mint(b.service, nil, b.tokenTTL)
		if err != nil {
			return err
		}
		env.Token = token
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channel, data)
}

// Message is one validated frame delivered to a Subscribe consumer.
type Message struct {
	Service string
	Payload json.RawMessage
}

// Subscribe subscribes to channel and returns a stream of envelope
// payloads that passed signature validation. The channel closes when
// ctx is cancelled. Messages failing validation are dropped and logged,
// never delivered — per spec §4.5's "subscribers drop messages whose
// envelope fails validation".
func (b *Bus) Subscribe(ctx context.Context, channel string) <-chan Message {
	out := make(chan Message)
	sub := b.redis.Subscribe(ctx, channel)

	go func() {
		defer close(out)
		defer sub.Close()
		raw := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				parsed, ok := b.validate([]byte(msg.Payload))
				if !ok {
					continue
				}
				select {
				case out <- parsed:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (b *Bus) validate(data []byte) (Message, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logf("pubsub: dropping malformed envelope: %v", err)
		return Message{}, false
	}

	if b.verifier != nil {
		if _, verr := b.verifier.Verify(env.Token); verr != nil {
			b.logf("pubsub: dropping envelope with invalid signature from %q: %v", env.Service, verr)
			return Message{}, false
		}
	}

	return Message{Service: env.Service, Payload: env.Payload}, true
}

func (b *Bus) logf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Warnf(format, args...)
}
