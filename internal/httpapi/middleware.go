package httpapi

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/config"
	"github.com/intellirouter/intellirouter/internal/ipc/jwtauth"
	"github.com/intellirouter/intellirouter/internal/logging"
)

const identityContextKey = "httpapi.identity"

// writeError renders err as the OpenAI-compatible `{error:{...}}` body
// (spec §7) and aborts the gin context with the matching HTTP status.
func writeError(c *gin.Context, err *apierr.Error) {
	c.AbortWithStatusJSON(err.Kind.HTTPStatus(), err.ToBody())
}

// recoveryMiddleware replaces gin.Recovery(): a panicking handler is
// turned into an apierr.Internal response carrying a correlation id, the
// id is logged via logging.WithCorrelationID so the two can be
// cross-referenced (spec §7), and the cause itself never reaches the
// client.
func recoveryMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				correlationID := uuid.New().String()
				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				if logger != nil {
					logging.WithCorrelationID(logger, correlationID).WithField("panic", r).Error("httpapi: recovered from panic")
				}
				writeError(c, apierr.Internal(correlationID, cause))
			}
		}()
		c.Next()
	}
}

// authMiddleware enforces spec §6's "Auth header" contract: either a
// bearer JWT or a configured header carrying an API key, depending on
// auth.auth_method. Requests without a valid credential receive 401
// before any handler runs.
func authMiddleware(cfg config.AuthConfig, jwtVerifier *jwtauth.Verifier, apiKeyVerifier *jwtauth.APIKeyVerifier) gin.HandlerFunc {
	headerName := cfg.APIKeyHeader
	if headerName == "" {
		headerName = "X-API-Key"
	}

	return func(c *gin.Context) {
		if !cfg.AuthEnabled {
			c.Next()
			return
		}

		switch cfg.AuthMethod {
		case "api_key":
			key := c.GetHeader(headerName)
			if key == "" {
				writeError(c, apierr.New(apierr.KindUnauthenticated, "missing "+headerName+" header"))
				return
			}
			if verr := apiKeyVerifier.Verify(key); verr != nil {
				writeError(c, verr)
				return
			}
		default: // "jwt"
			token, ok := bearerToken(c)
			if !ok {
				writeError(c, apierr.New(apierr.KindUnauthenticated, "missing bearer token"))
				return
			}
			identity, verr := jwtVerifier.Verify(token)
			if verr != nil {
				writeError(c, verr)
				return
			}
			c.Set(identityContextKey, identity)
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// identityFromContext returns the JWT identity authMiddleware attached,
// if auth is enabled in "jwt" mode.
func identityFromContext(c *gin.Context) (*jwtauth.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*jwtauth.Identity)
	return id, ok
}

// requireRoles enforces roles ⊇ required for routes that need more than
// "has a valid credential" (spec §4.5's RBAC check, applied at the HTTP
// edge rather than only at the gRPC boundary). A request authenticated
// via api_key rather than JWT has no role set to check and is let
// through: role scoping is a JWT-only concept here.
func requireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFromContext(c)
		if !ok {
			c.Next()
			return
		}
		if rerr := jwtauth.RequireRoles(identity, roles); rerr != nil {
			writeError(c, rerr)
			return
		}
		c.Next()
	}
}
