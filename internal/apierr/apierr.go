// Package apierr defines the error taxonomy shared by the HTTP and gRPC
// surfaces: a small set of kinds, each with a fixed mapping to an HTTP
// status and a gRPC code, so a failure's meaning survives the transport
// boundary intact.
package apierr

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Kind classifies an error into one of the surfaces described in spec §7.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindUnauthenticated    Kind = "unauthenticated"
	KindPermissionDenied   Kind = "permission_denied"
	KindBackendError       Kind = "backend_error"
	KindAllUnavailable     Kind = "all_backends_unavailable"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal"
	KindBackendOverloaded  Kind = "backend_overloaded"
	KindModelNotAvailable  Kind = "model_not_available"
	KindLoopLimitExceeded  Kind = "loop_limit_exceeded"
)

// Error is the taxonomy's carrier type. Field is set only for Validation
// errors; CorrelationID is set only for Internal errors so logs and the
// client-visible body can be cross-referenced without leaking detail.
type Error struct {
	Kind          Kind
	Code          string
	Message       string
	Field         string
	CorrelationID string
	Transient     bool
	Cause         error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a code matching the kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Wrap attaches a kind and message to an underlying error, preserving it
// for logging via errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Cause: cause}
}

// Validation builds a field-scoped validation error (spec §4.1).
func Validation(field, reason string) *Error {
	return &Error{Kind: KindValidation, Code: string(KindValidation), Message: reason, Field: field}
}

// BackendError builds a backend failure, recording whether it is
// transient (eligible for retry, per spec §4.3 step 5).
func BackendError(message string, transient bool, cause error) *Error {
	return &Error{Kind: KindBackendError, Code: string(KindBackendError), Message: message, Transient: transient, Cause: cause}
}

// Internal builds a generic internal error carrying a correlation id;
// the message shown to the client never includes cause detail.
func Internal(correlationID string, cause error) *Error {
	return &Error{
		Kind:          KindInternal,
		Code:          string(KindInternal),
		Message:       "an internal error occurred",
		CorrelationID: correlationID,
		Cause:         cause,
	}
}

// As extracts an *Error from err, or synthesizes an Internal one with the
// given correlation id if err is not already typed.
func As(err error, correlationID string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Internal(correlationID, err)
}

// HTTPStatus maps a Kind to the status codes listed in spec §6.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound, KindModelNotAvailable:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindBackendOverloaded:
		return http.StatusTooManyRequests
	case KindAllUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499 // client closed request, nginx convention
	case KindBackendError, KindInternal, KindLoopLimitExceeded:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps a Kind to the google.golang.org/grpc/codes value used when
// the error crosses a role-to-role gRPC boundary (spec §4.5, §7).
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound, KindModelNotAvailable:
		return codes.NotFound
	case KindUnauthenticated:
		return codes.Unauthenticated
	case KindPermissionDenied:
		return codes.PermissionDenied
	case KindBackendOverloaded:
		return codes.ResourceExhausted
	case KindAllUnavailable:
		return codes.Unavailable
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// Body is the OpenAI-compatible JSON shape returned to HTTP clients.
type Body struct {
	Error BodyDetail `json:"error"`
}

// BodyDetail is the nested `error` object of Body.
type BodyDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ToBody renders the OpenAI-compatible error body for an HTTP response.
// A correlation id, when set, is appended to the message.
func (e *Error) ToBody() Body {
	message := e.Message
	if e.CorrelationID != "" {
		message += " (correlation_id: " + e.CorrelationID + ")"
	}
	return Body{Error: BodyDetail{Code: e.Code, Message: message, Param: e.Field}}
}
