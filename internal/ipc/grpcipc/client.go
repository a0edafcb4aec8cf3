package grpcipc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// ClientOptions configures Dial.
type ClientOptions struct {
	Security config.IPCSecurityConfig
}

// Dial opens a connection to a role's gRPC endpoint, defaulting every
// call on the connection to the json codec this module registers.
func Dial(addr string, opts ClientOptions) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}

	if opts.Security.TLSCert != "" {
		creds, err := clientTLSCredentials(opts.Security)
		if err != nil {
			return nil, fmt.Errorf("grpcipc: building client TLS credentials: %w", err)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return grpc.NewClient(addr, dialOpts...)
}

func clientTLSCredentials(sec config.IPCSecurityConfig) (credentials.TransportCredentials, error) {
	tlsCfg := &tls.Config{}

	if sec.TLSCA != "" {
		caBytes, err := os.ReadFile(sec.TLSCA)
		if err != nil {
			return nil, fmt.Errorf("reading server CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates parsed from %s", sec.TLSCA)
		}
		tlsCfg.RootCAs = pool
	}

	if sec.TLSCert != "" && sec.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(sec.TLSCert, sec.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("loading client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(tlsCfg), nil
}

// Client calls another role's RoleService over a dialed connection,
// attaching token (a JWT minted by jwtauth.Minter) as bearer metadata on
// every call. An empty token sends no authorization metadata.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient wraps conn. conn is typically produced by Dial.
func NewClient(conn *grpc.ClientConn, token string) *Client {
	return &Client{conn: conn, token: token}
}

func (c *Client) withAuth(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// RouteChat invokes the unary RouteChat RPC.
func (c *Client) RouteChat(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, error) {
	resp := new(wire.ChatResponse)
	if err := c.conn.Invoke(c.withAuth(ctx), "/"+ServiceName+"/RouteChat", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ExecuteChain invokes the unary ExecuteChain RPC.
func (c *Client) ExecuteChain(ctx context.Context, req *wire.ChainExecutionRequest) (*wire.ChainExecutionResponse, error) {
	resp := new(wire.ChainExecutionResponse)
	if err := c.conn.Invoke(c.withAuth(ctx), "/"+ServiceName+"/ExecuteChain", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health invokes the unary Health RPC.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp := new(HealthResponse)
	if err := c.conn.Invoke(c.withAuth(ctx), "/"+ServiceName+"/Health", &HealthRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

var routeChatStreamDesc = &grpc.StreamDesc{StreamName: "RouteChatStream", ServerStreams: true}

// RouteChatStream invokes the server-streaming RouteChatStream RPC,
// returning a channel of decoded chunks. The channel is closed when the
// stream ends (successfully or with an error, reported via errOut).
func (c *Client) RouteChatStream(ctx context.Context, req *wire.ChatRequest) (<-chan *wire.ChatChunk, <-chan error) {
	out := make(chan *wire.ChatChunk)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errOut)
		stream, err := c.conn.NewStream(c.withAuth(ctx), routeChatStreamDesc, "/"+ServiceName+"/RouteChatStream")
		if err != nil {
			errOut <- err
			return
		}
		if err := stream.SendMsg(req); err != nil {
			errOut <- err
			return
		}
		if err := stream.CloseSend(); err != nil {
			errOut <- err
			return
		}
		for {
			chunk := new(wire.ChatChunk)
			if err := stream.RecvMsg(chunk); err != nil {
				if !errors.Is(err, io.EOF) {
					errOut <- err
				}
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errOut
}

var executeChainStreamDesc = &grpc.StreamDesc{StreamName: "ExecuteChainStream", ServerStreams: true}

// ExecuteChainStream invokes the server-streaming ExecuteChainStream RPC.
func (c *Client) ExecuteChainStream(ctx context.Context, req *wire.ChainExecutionRequest) (<-chan *wire.ChainEvent, <-chan error) {
	out := make(chan *wire.ChainEvent)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errOut)
		stream, err := c.conn.NewStream(c.withAuth(ctx), executeChainStreamDesc, "/"+ServiceName+"/ExecuteChainStream")
		if err != nil {
			errOut <- err
			return
		}
		if err := stream.SendMsg(req); err != nil {
			errOut <- err
			return
		}
		if err := stream.CloseSend(); err != nil {
			errOut <- err
			return
		}
		for {
			ev := new(wire.ChainEvent)
			if err := stream.RecvMsg(ev); err != nil {
				if !errors.Is(err, io.EOF) {
					errOut <- err
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errOut
}
