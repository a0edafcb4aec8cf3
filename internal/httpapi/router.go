// Package httpapi implements the client-facing HTTP surface (spec §6):
// chat completions, chain CRUD and execution, and the health endpoint,
// mounted on a gin.Engine the way the teacher's cmd/api server mounts
// its own APIServer routes.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/cache"
	"github.com/intellirouter/intellirouter/internal/chain"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/router"
)

// Deps wires httpapi's handlers to the core components a RoleRuntime
// has already constructed.
type Deps struct {
	Router      *router.Router
	ProviderFor func(name string) (registry.Provider, bool)
	Registry    *registry.Registry
	Chain       *chain.Engine
	ChainStore  *ChainStore

	Auth           config.AuthConfig
	JWTVerifier    *jwtauth.Verifier
	APIKeyVerifier *jwtauth.APIKeyVerifier

	Redis          *cache.RedisClient
	Logger         *logrus.Logger
	RequestTimeout time.Duration
}

// NewRouter builds the gin.Engine serving spec §6's client-facing
// routes. Callers mount it behind an *http.Server with their own
// ReadTimeout/WriteTimeout, mirroring cmd/superagent/main.go's server
// construction.
func NewRouter(deps Deps) *gin.Engine {
	if deps.ChainStore == nil {
		deps.ChainStore = NewChainStore()
	}

	r := gin.New()
	r.Use(recoveryMiddleware(deps.Logger))
	r.Use(requestLogger(deps.Logger))

	r.GET("/health", handleHealth(&deps))

	auth := authMiddleware(deps.Auth, deps.JWTVerifier, deps.APIKeyVerifier)

	v1 := r.Group("/v1", auth)
	v1.POST("/chat/completions", handleChatCompletions(&deps))

	chains := v1.Group("/chains")
	chains.POST("", requireRoles("chains.write"), handleCreateChain(&deps))
	chains.GET("", handleListChains(&deps))
	chains.GET("/:id", handleGetChain(&deps))
	chains.DELETE("/:id", requireRoles("chains.write"), handleDeleteChain(&deps))
	chains.POST("/execute", handleExecuteChain(&deps))

	return r
}

// NewHealthOnlyRouter builds the minimal generic RoleRuntime shell (spec
// §4.6) for roles with no client-facing chat/chain surface of their
// own — RagManager and PersonaLayer mount only GET /health, leaving
// their gRPC server and pub/sub subscriptions (wired by internal/roles)
// as the role-to-role surface.
func NewHealthOnlyRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(recoveryMiddleware(deps.Logger))
	r.Use(requestLogger(deps.Logger))
	r.GET("/health", handleHealth(&deps))
	return r
}

// requestLogger is a minimal structured-logging middleware in the
// teacher's logrus style, replacing gin's default Logger() so entries
// carry the same fields the rest of the core logs with.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("http request")
	}
}
