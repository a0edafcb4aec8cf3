package grpcipc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
)

type identityKey struct{}

// IdentityFromContext returns the identity an auth interceptor attached
// to ctx, if any.
func IdentityFromContext(ctx context.Context) (*jwtauth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*jwtauth.Identity)
	return id, ok
}

// AuthPolicy verifies tokens and enforces per-method RBAC for both the
// unary and streaming interceptors below. A nil Verifier disables
// authentication entirely (spec §4.5's checks are only meaningful when
// ipc.security.enabled is true).
type AuthPolicy struct {
	Verifier      *jwtauth.Verifier
	RequiredRoles map[string][]string // method name ("RouteChat") -> required roles
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(vals[0], prefix) {
		return vals[0], true
	}
	return strings.TrimPrefix(vals[0], prefix), true
}

// authenticate verifies the token on ctx and checks the role requirement
// for method, returning the augmented context on success.
func (p *AuthPolicy) authenticate(ctx context.Context, method string) (context.Context, error) {
	if p == nil || p.Verifier == nil {
		return ctx, nil
	}
	token, ok := bearerToken(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	identity, verr := p.Verifier.Verify(token)
	if verr != nil {
		return nil, status.Error(verr.Kind.GRPCCode(), verr.Message)
	}
	if required, ok := p.RequiredRoles[method]; ok {
		if rerr := jwtauth.RequireRoles(identity, required); rerr != nil {
			return nil, status.Error(rerr.Kind.GRPCCode(), rerr.Message)
		}
	}
	return context.WithValue(ctx, identityKey{}, identity), nil
}

// UnaryServerInterceptor returns the interceptor passed to
// grpc.UnaryInterceptor at server construction.
func (p *AuthPolicy) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authed, err := p.authenticate(ctx, methodName(info.FullMethod))
		if err != nil {
			return nil, err
		}
		return handler(authed, req)
	}
}

type authedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedServerStream) Context() context.Context { return s.ctx }

// StreamServerInterceptor returns the interceptor passed to
// grpc.StreamInterceptor at server construction.
func (p *AuthPolicy) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authed, err := p.authenticate(ss.Context(), methodName(info.FullMethod))
		if err != nil {
			return err
		}
		return handler(srv, &authedServerStream{ServerStream: ss, ctx: authed})
	}
}
