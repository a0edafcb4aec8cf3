package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/intellirouter/intellirouter/internal/cache"
)

// ResponseCache memoizes LlmNode outputs keyed by a fingerprint of the
// model, prompt template, resolved inputs, and sampling controls (spec
// §4.4). singleflight.Group enforces the at-most-one-concurrent-build-per-
// key rule from spec §5 without a hand-rolled mutex table.
type ResponseCache struct {
	redis *cache.RedisClient
	ttl   time.Duration
	group singleflight.Group
}

// NewResponseCache builds a ResponseCache backed by redis with the given TTL.
func NewResponseCache(redis *cache.RedisClient, ttl time.Duration) *ResponseCache {
	return &ResponseCache{redis: redis, ttl: ttl}
}

// Key computes the cache fingerprint. Strategy name is deliberately excluded
// so a strategy switch does not invalidate the cache (spec §9 open question).
func Key(model, promptTemplate string, resolvedInputs map[string]any, temperature *float64, maxTokens *int) string {
	payload := struct {
		Model       string         `json:"model"`
		Prompt      string         `json:"prompt"`
		Inputs      map[string]any `json:"inputs"`
		Temperature *float64       `json:"temperature"`
		MaxTokens   *int           `json:"max_tokens"`
	}{model, promptTemplate, resolvedInputs, temperature, maxTokens}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return "chain:node:" + hex.EncodeToString(sum[:])
}

// GetOrBuild returns the cached value for key if present; otherwise it calls
// build exactly once across concurrent callers sharing key and caches the
// result.
func (c *ResponseCache) GetOrBuild(ctx context.Context, key string, build func() (string, error)) (value string, hit bool, err error) {
	var cached string
	if getErr := c.redis.Get(ctx, key, &cached); getErr == nil {
		return cached, true, nil
	}

	result, sfErr, _ := c.group.Do(key, func() (interface{}, error) {
		built, buildErr := build()
		if buildErr != nil {
			return "", buildErr
		}
		_ = c.redis.Set(ctx, key, built, c.ttl)
		return built, nil
	})
	if sfErr != nil {
		return "", false, sfErr
	}
	return result.(string), false, nil
}
