// Package config defines the configuration contract consumed by the
// core (spec §6). Loading configuration from files or flags is an
// external concern (spec §1 Non-goals); this package only defines the
// struct tree and, for tests and the cmd entrypoint, a minimal
// environment-variable loader in the teacher's own hand-rolled style
// (internal/config/config.go in the teacher never reaches for viper
// either).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full configuration tree a RoleRuntime consumes at boot.
type Config struct {
	Server        ServerConfig
	ModelRegistry ModelRegistryConfig
	Router        RouterConfig
	ChainEngine   ChainEngineConfig
	Auth          AuthConfig
	IPC           IPCConfig
	Redis         RedisConfig
}

// ServerConfig mirrors `server.*`.
type ServerConfig struct {
	Host              string
	Port              int
	MaxConnections    int
	RequestTimeoutSec int
}

// ProviderConfig mirrors one entry of `model_registry.providers`.
type ProviderConfig struct {
	Name            string
	Endpoint        string
	DefaultModel    string
	AvailableModels []string
	TimeoutSec      int
	MaxRetries      int
	APIKeyEnv       string
}

// ModelRegistryConfig mirrors `model_registry.*`.
type ModelRegistryConfig struct {
	DefaultProvider string
	Providers       []ProviderConfig
}

// CircuitBreakerConfig mirrors the breaker section of `router.*`.
type CircuitBreakerConfig struct {
	FailureThreshold int
	CooldownMS       int64
}

// RetryPolicyConfig mirrors the retry section of `router.*`.
type RetryPolicyConfig struct {
	MaxRetries int
	BaseMS     int64
	JitterPct  float64
}

// DegradedServiceMode resolves the open question in spec §9: an explicit
// three-value enum governing what Router does once every strategy has
// exhausted the candidate set (spec §4.3 step 7).
type DegradedServiceMode string

const (
	DegradedOff       DegradedServiceMode = "off"
	DegradedSynthetic DegradedServiceMode = "synthetic"
	DegradedError     DegradedServiceMode = "error"
)

// RouterConfig mirrors `router.*`.
type RouterConfig struct {
	DefaultStrategy     string
	AvailableStrategies []string
	Rules               map[string][]string // model_id -> candidate backend ids
	CircuitBreaker      CircuitBreakerConfig
	Retry               RetryPolicyConfig
	DegradedServiceMode DegradedServiceMode
	MaxInFlightPerModel int
}

// ChainEngineConfig mirrors `chain_engine.*`.
type ChainEngineConfig struct {
	MaxChainLength       int
	MaxExecutionTimeSecs int
	EnableCaching        bool
	CacheTTLSecs         int
}

// AuthConfig mirrors `auth.*`.
type AuthConfig struct {
	AuthEnabled        bool
	AuthMethod         string // "jwt" | "api_key"
	APIKeyHeader       string
	JWTExpirationSecs  int
	APIKeys            []string
}

// IPCSecurityConfig mirrors `ipc.security.*`.
type IPCSecurityConfig struct {
	Enabled bool
	Token   string
	TLSCert string
	TLSKey  string
	TLSCA   string
}

// IPCConfig mirrors `ipc.*`.
type IPCConfig struct {
	Security IPCSecurityConfig
}

// RedisConfig configures the shared Redis connection used by both the
// pub/sub bus and the chain response cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// FromEnv loads the subset of spec §6's keys the core itself reads at
// boot, using plain environment variables the way the teacher's own
// config.go does. It is intentionally minimal: full file/flag based
// loading is out of scope.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			MaxConnections:    getEnvInt("SERVER_MAX_CONNECTIONS", 1000),
			RequestTimeoutSec: getEnvInt("SERVER_REQUEST_TIMEOUT_SECS", 30),
		},
		Router: RouterConfig{
			DefaultStrategy: getEnv("ROUTER_DEFAULT_STRATEGY", "round_robin"),
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: getEnvInt("ROUTER_BREAKER_FAILURE_THRESHOLD", 5),
				CooldownMS:       int64(getEnvInt("ROUTER_BREAKER_COOLDOWN_MS", 30000)),
			},
			Retry: RetryPolicyConfig{
				MaxRetries: getEnvInt("ROUTER_RETRY_MAX_RETRIES", 3),
				BaseMS:     int64(getEnvInt("ROUTER_RETRY_BASE_MS", 200)),
				JitterPct:  0.25,
			},
			DegradedServiceMode: DegradedServiceMode(getEnv("ROUTER_DEGRADED_SERVICE_MODE", string(DegradedError))),
			MaxInFlightPerModel: getEnvInt("ROUTER_MAX_INFLIGHT_PER_MODEL", 64),
		},
		ChainEngine: ChainEngineConfig{
			MaxChainLength:       getEnvInt("CHAIN_ENGINE_MAX_CHAIN_LENGTH", 64),
			MaxExecutionTimeSecs: getEnvInt("CHAIN_ENGINE_MAX_EXECUTION_TIME_SECS", 300),
			EnableCaching:        getEnvBool("CHAIN_ENGINE_ENABLE_CACHING", true),
			CacheTTLSecs:         getEnvInt("CHAIN_ENGINE_CACHE_TTL_SECS", 600),
		},
		Auth: AuthConfig{
			AuthEnabled:       getEnvBool("AUTH_ENABLED", true),
			AuthMethod:        getEnv("AUTH_METHOD", "jwt"),
			APIKeyHeader:      getEnv("AUTH_API_KEY_HEADER", "X-API-Key"),
			JWTExpirationSecs: getEnvInt("AUTH_JWT_EXPIRATION_SECS", 3600),
			APIKeys:           splitCSV(getEnv("AUTH_API_KEYS", "")),
		},
		IPC: IPCConfig{
			Security: IPCSecurityConfig{
				Enabled: getEnvBool("IPC_SECURITY_ENABLED", true),
				Token:   getEnv("IPC_SECURITY_TOKEN", ""),
				TLSCert: getEnv("IPC_SECURITY_TLS_CERT", ""),
				TLSKey:  getEnv("IPC_SECURITY_TLS_KEY", ""),
				TLSCA:   getEnv("IPC_SECURITY_TLS_CA", ""),
			},
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}
}

// ClockSkew is the fixed allowance referenced in spec §3/§4.5.
const ClockSkew = 5 * time.Second

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
