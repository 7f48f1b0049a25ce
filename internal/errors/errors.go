// Package errors maps domain errors onto the JSON error envelope returned
// by the HTTP API.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/3leaps/cloudphotos/pkg/credstore"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// Error codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotConnected       = "NOT_CONNECTED"
	CodeUpstreamAuthFailed = "UPSTREAM_AUTH_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeThrottled          = "THROTTLED"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeUpstreamError      = "UPSTREAM_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every API error.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// AppError is an error that already knows its HTTP representation.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest reports a client error.
func NewInvalidRequest(message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: message}
}

// NewUnauthorized reports a missing or unknown bearer token.
func NewUnauthorized(message string) *AppError {
	return &AppError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

// NewPayloadTooLarge reports a request body over the configured limit.
func NewPayloadTooLarge(limit int64) *AppError {
	return &AppError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    CodePayloadTooLarge,
		Message: "request body too large",
		Details: map[string]any{"max_bytes": limit},
	}
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message}
}

// WrapInternal wraps err as an internal error. A cancelled ctx is reported
// as the cause when err is nil.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	if err == nil && ctx != nil {
		err = ctx.Err()
	}
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// Classify maps err onto an AppError. Checks run from most to least
// specific: an upstream session failure wins over the generic upstream
// wrappers, which in turn win over a plain not-found.
func Classify(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, provider.ErrInvalidRequest), stderrors.Is(err, credstore.ErrInvalidUserID):
		return &AppError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	case stderrors.Is(err, provider.ErrNotConnected):
		return &AppError{Status: http.StatusUnauthorized, Code: CodeNotConnected, Message: "Amazon Photos is not connected", Err: err}
	case provider.IsTimeout(err):
		return &AppError{Status: http.StatusGatewayTimeout, Code: CodeUpstreamTimeout, Message: "upstream request timed out", Err: err}
	case provider.IsInvalidCredentials(err), provider.IsAccessDenied(err):
		return &AppError{
			Status:  http.StatusBadGateway,
			Code:    CodeUpstreamAuthFailed,
			Message: "Amazon Photos rejected the stored session; reconnect",
			Details: upstreamDetails(err),
			Err:     err,
		}
	case provider.IsThrottled(err):
		return &AppError{Status: http.StatusTooManyRequests, Code: CodeThrottled, Message: "upstream throttled the request", Err: err}
	}

	if details := upstreamDetails(err); details != nil {
		return &AppError{Status: http.StatusBadGateway, Code: CodeUpstreamError, Message: err.Error(), Details: details, Err: err}
	}

	switch {
	case provider.IsNotFound(err):
		return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Err: err}
	case provider.IsProviderUnavailable(err):
		return &AppError{Status: http.StatusBadGateway, Code: CodeUpstreamError, Message: err.Error(), Err: err}
	}
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error", Err: err}
}

// upstreamDetails extracts upstream status information from adapter errors.
// It returns nil when err did not come from an upstream response.
func upstreamDetails(err error) map[string]any {
	var (
		qerr *amazonphotos.QueryError
		uerr *amazonphotos.UploadError
		rerr *amazonphotos.RetrievalError
		serr *amazonphotos.StatusError
		derr *amazonphotos.DecodeError
	)
	details := map[string]any{}
	switch {
	case stderrors.As(err, &qerr):
		details["operation"] = "search"
		details["upstream_status"] = qerr.StatusCode
	case stderrors.As(err, &uerr):
		details["operation"] = "upload"
		details["upstream_status"] = uerr.StatusCode
	case stderrors.As(err, &rerr):
		details["operation"] = "retrieve"
		details["node_id"] = rerr.NodeID
		details["attempts"] = rerr.Attempts
		if stderrors.As(err, &serr) {
			details["upstream_status"] = serr.StatusCode
		}
	case stderrors.As(err, &serr):
		details["operation"] = serr.Op
		details["upstream_status"] = serr.StatusCode
	case stderrors.As(err, &derr):
		details["operation"] = derr.Op
	default:
		return nil
	}
	return details
}

// RespondWithError writes err as a JSON error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Classify(err)
	WriteError(w, r, appErr.Status, appErr.Code, appErr.Message, appErr.Details)
}

// WriteError writes a JSON error envelope with an explicit status and code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	requestID := w.Header().Get(RequestIDHeader)
	if requestID == "" && r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Details:   details,
	}})
}
