package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "round_robin", cfg.Router.DefaultStrategy)
	assert.Equal(t, DegradedError, cfg.Router.DegradedServiceMode)
	assert.True(t, cfg.ChainEngine.EnableCaching)
}

func TestFromEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ROUTER_DEGRADED_SERVICE_MODE", "synthetic")
	t.Setenv("AUTH_API_KEYS", "a, b ,c")

	cfg := FromEnv()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DegradedSynthetic, cfg.Router.DegradedServiceMode)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
}
