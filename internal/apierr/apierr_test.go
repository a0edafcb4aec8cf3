package apierr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:        http.StatusBadRequest,
		KindNotFound:          http.StatusNotFound,
		KindModelNotAvailable: http.StatusNotFound,
		KindUnauthenticated:   http.StatusUnauthorized,
		KindPermissionDenied:  http.StatusForbidden,
		KindAllUnavailable:    http.StatusServiceUnavailable,
		KindTimeout:           http.StatusGatewayTimeout,
		KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), "kind=%s", kind)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	assert.Equal(t, codes.Unauthenticated, KindUnauthenticated.GRPCCode())
	assert.Equal(t, codes.PermissionDenied, KindPermissionDenied.GRPCCode())
	assert.Equal(t, codes.DeadlineExceeded, KindTimeout.GRPCCode())
	assert.Equal(t, codes.Unavailable, KindAllUnavailable.GRPCCode())
}

func TestValidationError(t *testing.T) {
	err := Validation("model", "model is required")
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "model", err.Field)
	assert.Contains(t, err.Error(), "field=model")
}

func TestInternalCarriesCorrelationIDNotCause(t *testing.T) {
	cause := assert.AnError
	err := Internal("corr-123", cause)
	body := err.ToBody()
	assert.Equal(t, "corr-123", err.CorrelationID)
	assert.NotContains(t, body.Error.Message, cause.Error())
}

func TestAsPassesThroughTypedError(t *testing.T) {
	original := New(KindNotFound, "model not registered")
	got := As(original, "corr-1")
	assert.Same(t, original, got)
}

func TestAsWrapsUntypedError(t *testing.T) {
	got := As(assert.AnError, "corr-2")
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, "corr-2", got.CorrelationID)
}
