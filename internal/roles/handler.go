package roles

import (
	"context"

	"google.golang.org/grpc/status"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/cache"
	"github.com/intellirouter/intellirouter/internal/chain"
	"github.com/intellirouter/intellirouter/internal/ipc/grpcipc"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/router"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// grpcHandler implements grpcipc.Handler by delegating to the same
// router.Router/chain.Engine a RoleRuntime's HTTP surface uses, so a
// role-to-role caller and a client-facing HTTP caller get identical
// routing/execution semantics (spec §4.5, §4.6).
type grpcHandler struct {
	role        Role
	router      *router.Router
	providerFor func(string) (registry.Provider, bool)
	chain       *chain.Engine
	registry    *registry.Registry
	redis       *cache.RedisClient
}

func toGRPCErr(verr *apierr.Error) error {
	if verr == nil {
		return nil
	}
	return status.Error(verr.Kind.GRPCCode(), verr.Message)
}

func (h *grpcHandler) RouteChat(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, error) {
	if h.router == nil {
		return nil, toGRPCErr(apierr.New(apierr.KindInternal, "role '"+string(h.role)+"' does not implement RouteChat"))
	}
	resp, verr := h.router.Route(ctx, req, h.providerFor)
	return resp, toGRPCErr(verr)
}

func (h *grpcHandler) RouteChatStream(ctx context.Context, req *wire.ChatRequest, send func(*wire.ChatChunk) error) error {
	if h.router == nil {
		return toGRPCErr(apierr.New(apierr.KindInternal, "role '"+string(h.role)+"' does not implement RouteChatStream"))
	}
	events, verr := h.router.RouteStream(ctx, req, h.providerFor)
	if verr != nil {
		return toGRPCErr(verr)
	}
	for ev := range events {
		if ev.Err != nil {
			return toGRPCErr(ev.Err)
		}
		if ev.Done {
			return nil
		}
		if err := send(ev.Chunk); err != nil {
			return err
		}
	}
	return nil
}

func (h *grpcHandler) ExecuteChain(ctx context.Context, req *wire.ChainExecutionRequest) (*wire.ChainExecutionResponse, error) {
	if h.chain == nil {
		return nil, toGRPCErr(apierr.New(apierr.KindInternal, "role '"+string(h.role)+"' does not implement ExecuteChain"))
	}
	if req.Chain == nil {
		return nil, toGRPCErr(apierr.Validation("chain", "ExecuteChain over gRPC requires an inline chain definition"))
	}
	if verr := wire.ValidateChain(req.Chain); verr != nil {
		return nil, toGRPCErr(verr)
	}
	resp, verr := h.chain.Execute(ctx, req.Chain, req.Inputs)
	return resp, toGRPCErr(verr)
}

func (h *grpcHandler) ExecuteChainStream(ctx context.Context, req *wire.ChainExecutionRequest, send func(*wire.ChainEvent) error) error {
	if h.chain == nil {
		return toGRPCErr(apierr.New(apierr.KindInternal, "role '"+string(h.role)+"' does not implement ExecuteChainStream"))
	}
	if req.Chain == nil {
		return toGRPCErr(apierr.Validation("chain", "ExecuteChainStream over gRPC requires an inline chain definition"))
	}
	if verr := wire.ValidateChain(req.Chain); verr != nil {
		return toGRPCErr(verr)
	}
	events, verr := h.chain.ExecuteStream(ctx, req.Chain, req.Inputs)
	if verr != nil {
		return toGRPCErr(verr)
	}
	for ev := range events {
		e := ev
		if err := send(&e); err != nil {
			return err
		}
	}
	return nil
}

func (h *grpcHandler) Health(ctx context.Context) (*grpcipc.HealthResponse, error) {
	deps := make(map[string]string)

	if h.registry != nil {
		models := h.registry.List(registry.Filter{})
		healthy := 0
		for _, m := range models {
			if m.Health == registry.Healthy {
				healthy++
			}
		}
		switch {
		case len(models) == 0:
			deps["model_registry"] = "degraded"
		case healthy == len(models):
			deps["model_registry"] = "healthy"
		case healthy == 0:
			deps["model_registry"] = "unhealthy"
		default:
			deps["model_registry"] = "degraded"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			deps["redis"] = "unhealthy"
		} else {
			deps["redis"] = "healthy"
		}
	}

	overall := "healthy"
	for _, s := range deps {
		if s == "unhealthy" {
			overall = "unhealthy"
			break
		}
		if s == "degraded" {
			overall = "degraded"
		}
	}

	return &grpcipc.HealthResponse{Role: string(h.role), Status: overall, Dependencies: deps}, nil
}
