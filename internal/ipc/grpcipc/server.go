package grpcipc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	Security      config.IPCSecurityConfig
	Verifier      *jwtauth.Verifier // nil disables JWT auth
	RequiredRoles map[string][]string
}

// NewServer builds a *grpc.Server with the auth interceptor pair wired
// in and, when Security.TLSCert/TLSKey/TLSCA are set, mTLS transport
// credentials requiring a client certificate signed by TLSCA. Like
// cmd/grpc-server/main.go, the returned server still needs
// RegisterHandler and grpcServer.Serve(lis) from the caller.
func NewServer(opts ServerOptions) (*grpc.Server, error) {
	policy := &AuthPolicy{Verifier: opts.Verifier, RequiredRoles: opts.RequiredRoles}
	serverOpts := []grpc.ServerOption{
		grpc.UnaryInterceptor(policy.UnaryServerInterceptor()),
		grpc.StreamInterceptor(policy.StreamServerInterceptor()),
	}

	if opts.Security.TLSCert != "" {
		creds, err := serverTLSCredentials(opts.Security)
		if err != nil {
			return nil, fmt.Errorf("grpcipc: building server TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	return grpc.NewServer(serverOpts...), nil
}

func serverTLSCredentials(sec config.IPCSecurityConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(sec.TLSCert, sec.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("loading server keypair: %w", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if sec.TLSCA != "" {
		caBytes, err := os.ReadFile(sec.TLSCA)
		if err != nil {
			return nil, fmt.Errorf("reading client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("no certificates parsed from %s", sec.TLSCA)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(tlsCfg), nil
}
