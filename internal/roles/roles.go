// Package roles implements RoleRuntime (spec §4.6): the boot and
// graceful-shutdown sequence shared by the four role processes
// {Router, ChainEngine, RagManager, PersonaLayer}. It wires the
// ModelRegistry, strategy registry, and (for Router and ChainEngine) the
// orchestration engines to an HTTP front door, a gRPC role-to-role
// server, and Redis pub/sub subscriptions, following the gin-setup /
// signal-channel / http.Server.Shutdown shape of the teacher's
// cmd/superagent/main.go `run(appCfg)` function.
package roles

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/cache"
	"github.com/intellirouter/intellirouter/internal/chain"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/httpapi"
	"github.com/intellirouter/intellirouter/internal/ipc/grpcipc"
	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
	"github.com/intellirouter/intellirouter/internal/ipc/pubsub"
	"github.com/intellirouter/intellirouter/internal/metrics"
	"github.com/intellirouter/intellirouter/internal/providers/anthropic"
	"github.com/intellirouter/intellirouter/internal/providers/local"
	"github.com/intellirouter/intellirouter/internal/providers/openai"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/router"
	"github.com/intellirouter/intellirouter/internal/strategy"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// Role identifies which of spec §4.6's four RoleRuntime variants a
// process boots.
type Role string

const (
	RoleRouter       Role = "router"
	RoleChainEngine  Role = "chain-engine"
	RoleRagManager   Role = "rag-manager"
	RolePersonaLayer Role = "persona-layer"
)

// ParseRole validates the -role flag value cmd/intellirouter reads.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRouter, RoleChainEngine, RoleRagManager, RolePersonaLayer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("roles: unknown role %q", s)
	}
}

// pubsubChannels returns the spec §6 channels a role subscribes to on
// boot: router.events and registry.events, whose validated messages
// consume logs at debug level; chain.events.* is not subscribed at boot.
func (r Role) pubsubChannels() []string {
	return []string{"registry.events", "router.events"}
}

// Runtime is one booted role process: an HTTP front door, a gRPC
// role-to-role server, and (if Redis is configured) pub/sub
// subscriptions, torn down together by Run's graceful shutdown.
type Runtime struct {
	role   Role
	cfg    *config.Config
	logger *logrus.Logger

	httpServer   *http.Server
	grpcServer   *grpc.Server
	grpcListener net.Listener

	redis   *cache.RedisClient
	bus     *pubsub.Bus
	metrics *metrics.Registry

	drainDeadline time.Duration
}

// Metrics returns the role's prometheus registry, for a caller (such as
// cmd/intellirouter) that wants to expose it on an internal port.
func (rt *Runtime) Metrics() *metrics.Registry {
	return rt.metrics
}

// New constructs a Runtime for role, wiring ModelRegistry, the strategy
// registry, and — for Router and ChainEngine — the orchestration engine
// the role's handlers delegate to. RagManager and PersonaLayer boot the
// same shell with their domain logic left as external collaborators
// (spec §1 Non-goals); only /health, the gRPC server, and pub/sub
// subscriptions are wired for them.
func New(role Role, cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	reg := registry.New()
	if err := registerProviders(reg, cfg.ModelRegistry); err != nil {
		return nil, err
	}

	strategies := buildStrategyRegistry(cfg.Router.AvailableStrategies)

	var jwtMinter *jwtauth.Minter
	var jwtVerifier *jwtauth.Verifier
	if cfg.IPC.Security.Enabled && cfg.IPC.Security.Token != "" {
		secret := []byte(cfg.IPC.Security.Token)
		issuer, audience := "intellirouter/"+string(role), "intellirouter/ipc"
		jwtMinter = jwtauth.NewMinter(secret, issuer, audience)
		jwtVerifier = jwtauth.NewVerifier(secret, issuer, audience, config.ClockSkew)
	}

	var apiKeyVerifier *jwtauth.APIKeyVerifier
	if len(cfg.Auth.APIKeys) > 0 {
		apiKeyVerifier = jwtauth.NewAPIKeyVerifier(cfg.Auth.APIKeys)
	}

	var redisClient *cache.RedisClient
	if cfg.Redis.Host != "" {
		redisClient = cache.NewRedisClient(cfg.Redis)
	}

	var bus *pubsub.Bus
	if redisClient != nil {
		ttl := time.Duration(cfg.Auth.JWTExpirationSecs) * time.Second
		bus = pubsub.NewBus(redisClient, jwtMinter, jwtVerifier, string(role), ttl, logger)
	}

	metricsRegistry := metrics.New(prometheus.NewRegistry())

	if bus != nil {
		reg.AttachBus(bus)
	}

	rt := router.New(reg, strategies, cfg.Router, logger)
	rt.AttachMetrics(metricsRegistry)
	if bus != nil {
		rt.AttachBus(bus)
	}

	var engine *chain.Engine
	if role == RoleChainEngine {
		var respCache *chain.ResponseCache
		if cfg.ChainEngine.EnableCaching && redisClient != nil {
			respCache = chain.NewResponseCache(redisClient, time.Duration(cfg.ChainEngine.CacheTTLSecs)*time.Second)
		}
		opts := []chain.Option{}
		if respCache != nil {
			opts = append(opts, chain.WithCache(respCache))
		}
		maxExec := time.Duration(cfg.ChainEngine.MaxExecutionTimeSecs) * time.Second
		engine = chain.New(logger, routerLlmCaller{router: rt, providerFor: reg.Provider}, cfg.ChainEngine.MaxChainLength, maxExec, opts...)
		engine.AttachMetrics(metricsRegistry)
		if bus != nil {
			engine.AttachBus(bus)
		}
	}

	chainStore := httpapi.NewChainStore()

	var httpHandler http.Handler
	switch role {
	case RoleRouter, RoleChainEngine:
		httpHandler = httpapi.NewRouter(httpapi.Deps{
			Router:         rt,
			ProviderFor:    reg.Provider,
			Registry:       reg,
			Chain:          engine,
			ChainStore:     chainStore,
			Auth:           cfg.Auth,
			JWTVerifier:    jwtVerifier,
			APIKeyVerifier: apiKeyVerifier,
			Redis:          redisClient,
			Logger:         logger,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		})
	default:
		httpHandler = httpapi.NewHealthOnlyRouter(httpapi.Deps{Registry: reg, Redis: redisClient, Logger: logger})
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	}

	grpcServer, err := grpcipc.NewServer(grpcipc.ServerOptions{
		Security:      cfg.IPC.Security,
		Verifier:      jwtVerifier,
		RequiredRoles: requiredRolesFor(role),
	})
	if err != nil {
		return nil, fmt.Errorf("roles: building gRPC server: %w", err)
	}
	grpcipc.RegisterHandler(grpcServer, &grpcHandler{
		role:        role,
		router:      rt,
		providerFor: reg.Provider,
		chain:       engine,
		registry:    reg,
		redis:       redisClient,
	})

	return &Runtime{
		role:          role,
		cfg:           cfg,
		logger:        logger,
		httpServer:    httpServer,
		grpcServer:    grpcServer,
		redis:         redisClient,
		bus:           bus,
		metrics:       metricsRegistry,
		drainDeadline: 30 * time.Second,
	}, nil
}

// requiredRolesFor returns the RBAC requirement grpcipc's AuthPolicy
// enforces per method (spec §4.5): Router's RouteChat methods require
// "chat.invoke", ChainEngine's ExecuteChain methods require
// "chain.execute". Health and the other roles' shells carry no
// requirement.
func requiredRolesFor(role Role) map[string][]string {
	switch role {
	case RoleRouter:
		return map[string][]string{"RouteChat": {"chat.invoke"}, "RouteChatStream": {"chat.invoke"}}
	case RoleChainEngine:
		return map[string][]string{"ExecuteChain": {"chain.execute"}, "ExecuteChainStream": {"chain.execute"}}
	default:
		return nil
	}
}

// registerProviders builds a provider adapter per configured entry and
// registers its available models as ModelDescriptors, grounded on the
// teacher's multi-provider registration loop in
// cmd/superagent/main_multi_provider.go.
func registerProviders(reg *registry.Registry, cfg config.ModelRegistryConfig) error {
	for _, pc := range cfg.Providers {
		timeout := time.Duration(pc.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		apiKey := envOrEmpty(pc.APIKeyEnv)

		var adapter registry.Provider
		switch pc.Name {
		case "openai":
			adapter = openai.New(pc.Endpoint, apiKey, timeout)
		case "anthropic":
			adapter = anthropic.New(pc.Endpoint, apiKey, timeout)
		case "local":
			adapter = local.New(pc.Endpoint, apiKey, timeout)
		default:
			return fmt.Errorf("roles: unknown provider %q", pc.Name)
		}
		reg.RegisterProvider(adapter)

		for _, model := range pc.AvailableModels {
			if verr := reg.Register(registry.ModelDescriptor{
				ID:            model,
				Provider:      pc.Name,
				Endpoint:      pc.Endpoint,
				PriorityClass: registry.PriorityNormal,
				Health:        registry.Healthy,
			}); verr != nil {
				return verr
			}
		}
	}
	return nil
}

// buildStrategyRegistry registers the named strategies spec §4.3 step 3
// lists, falling back to round_robin alone when the config names none —
// matching FromEnv's own "round_robin" default.
func buildStrategyRegistry(names []string) *strategy.Registry {
	reg := strategy.NewRegistry()
	if len(names) == 0 {
		names = []string{"round_robin"}
	}
	for _, name := range names {
		switch name {
		case "round_robin":
			reg.Register(strategy.NewRoundRobin())
		case "cost_optimized":
			reg.Register(strategy.CostOptimized{})
		case "performance_optimized":
			reg.Register(strategy.PerformanceOptimized{})
		case "content_based":
			reg.Register(strategy.ContentBased{Classify: keywordClassifier})
		case "fallback":
			reg.Register(strategy.Fallback{Inner: []strategy.Strategy{strategy.PerformanceOptimized{}, strategy.NewRoundRobin()}})
		}
	}
	if _, ok := reg.Get("round_robin"); !ok {
		reg.Register(strategy.NewRoundRobin())
	}
	return reg
}

// keywordClassifier is a minimal ContentClassifier: it tags a message
// with "code" when it looks like it contains a fenced code block, a
// supplemented feature since spec.md names content_based routing but
// leaves its classifier unspecified.
func keywordClassifier(lastUserMessage string) []string {
	if len(lastUserMessage) == 0 {
		return nil
	}
	for i := 0; i+2 < len(lastUserMessage); i++ {
		if lastUserMessage[i] == '`' && lastUserMessage[i+1] == '`' && lastUserMessage[i+2] == '`' {
			return []string{"code"}
		}
	}
	return nil
}

// routerLlmCaller adapts router.Router to chain.LlmCaller so ChainEngine
// role LlmNodes dispatch through the same validate/pick/breaker/retry
// pipeline a direct /v1/chat/completions call would (spec §4.4's "LlmNode
// calls Router.route()").
type routerLlmCaller struct {
	router      *router.Router
	providerFor func(string) (registry.Provider, bool)
}

func (c routerLlmCaller) Complete(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, *apierr.Error) {
	return c.router.Route(ctx, req, c.providerFor)
}

func envOrEmpty(key string) string {
	if key == "" {
		return ""
	}
	return os.Getenv(key)
}

// grpcPort derives the role-to-role gRPC listener's port from the
// client-facing HTTP port by a fixed offset. Spec §6 names the HTTP
// server's port key (server.port) but leaves the gRPC server's address
// unspecified; the offset keeps both servers derivable from the single
// configured port rather than adding a second, unlisted config key.
func grpcPort(httpPort int) int { return httpPort + 1 }

// Run starts the HTTP server, gRPC server, and any pub/sub subscriptions,
// then blocks until ctx is cancelled or either server fails. On
// cancellation it drains in-flight work up to drainDeadline before
// returning (spec §4.6's "stop accepting new work, drain... then abort");
// a server failure is returned at once, without draining.
func (rt *Runtime) Run(ctx context.Context) error {
	grpcAddr := fmt.Sprintf("%s:%d", rt.cfg.Server.Host, grpcPort(rt.cfg.Server.Port))
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("roles: listening on %s: %w", grpcAddr, err)
	}
	rt.grpcListener = lis

	serverErr := make(chan error, 2)

	go func() {
		rt.logger.WithField("addr", rt.httpServer.Addr).Info("roles: http server listening")
		if err := rt.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		rt.logger.WithField("addr", grpcAddr).Info("roles: grpc server listening")
		if err := rt.grpcServer.Serve(lis); err != nil {
			serverErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var subCancel context.CancelFunc
	if rt.bus != nil {
		var subCtx context.Context
		subCtx, subCancel = context.WithCancel(context.Background())
		defer subCancel()
		for _, channel := range rt.role.pubsubChannels() {
			go rt.consume(subCtx, channel)
		}
	}

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	return rt.shutdown()
}

// shutdown stops accepting new work and drains in-flight requests up to
// drainDeadline before tearing down the gRPC server and Redis connection,
// mirroring cmd/superagent/main.go's `server.Shutdown(shutdownCtx)` call.
func (rt *Runtime) shutdown() error {
	rt.logger.Info("roles: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.drainDeadline)
	defer cancel()

	var shutdownErr error
	if err := rt.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("http server shutdown: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		rt.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		rt.grpcServer.Stop()
	}

	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("redis close: %w", err)
		}
	}

	rt.logger.Info("roles: shutdown complete")
	return shutdownErr
}

// consume relays every valid pub/sub message on channel to the logger.
// Router/ChainEngine Non-goals exclude acting on registry deltas beyond
// logging them; the subscription itself — and signature validation — is
// in scope per spec §4.5/§4.6.
func (rt *Runtime) consume(ctx context.Context, channel string) {
	for msg := range rt.bus.Subscribe(ctx, channel) {
		rt.logger.WithFields(logrus.Fields{
			"channel": channel,
			"service": msg.Service,
		}).Debug("roles: pubsub message received")
	}
}
