package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudphotos/pkg/credstore"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid request", fmt.Errorf("bad: %w", provider.ErrInvalidRequest), http.StatusBadRequest, CodeInvalidRequest},
		{"invalid user id", credstore.ErrInvalidUserID, http.StatusBadRequest, CodeInvalidRequest},
		{"not connected", provider.ErrNotConnected, http.StatusUnauthorized, CodeNotConnected},
		{"expired session", &amazonphotos.QueryError{StatusCode: 401, Body: "expired"}, http.StatusBadGateway, CodeUpstreamAuthFailed},
		{"access denied", provider.ErrAccessDenied, http.StatusBadGateway, CodeUpstreamAuthFailed},
		{"not found", provider.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"throttled", provider.ErrThrottled, http.StatusTooManyRequests, CodeThrottled},
		{"timeout", fmt.Errorf("fetch: %w", provider.ErrUpstreamTimeout), http.StatusGatewayTimeout, CodeUpstreamTimeout},
		{"search failed", &amazonphotos.QueryError{StatusCode: 500, Body: "boom"}, http.StatusBadGateway, CodeUpstreamError},
		{"upload failed", &amazonphotos.UploadError{StatusCode: 400, Body: "bad"}, http.StatusBadGateway, CodeUpstreamError},
		{"decode failed", &amazonphotos.DecodeError{Op: "usage", Err: stderrors.New("eof")}, http.StatusBadGateway, CodeUpstreamError},
		{"unavailable", provider.ErrProviderUnavailable, http.StatusBadGateway, CodeUpstreamError},
		{"unknown", stderrors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
		{"app error passthrough", NewPayloadTooLarge(10), http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestClassify_RetrievalErrorIsUpstream(t *testing.T) {
	err := &amazonphotos.RetrievalError{
		NodeID:   "n1",
		Strategy: amazonphotos.ScaledContent,
		Attempts: 3,
		Err:      &amazonphotos.StatusError{Op: "thumbnail", StatusCode: 404},
	}

	got := Classify(err)
	assert.Equal(t, http.StatusBadGateway, got.Status)
	assert.Equal(t, CodeUpstreamError, got.Code)
	assert.Equal(t, "n1", got.Details["node_id"])
	assert.Equal(t, 3, got.Details["attempts"])
	assert.Equal(t, 404, got.Details["upstream_status"])
}

func TestClassify_InternalHidesCause(t *testing.T) {
	got := Classify(stderrors.New("secret path /etc/key"))
	assert.Equal(t, "internal error", got.Message)
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/amazon/photos", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req-42")

	RespondWithError(rec, req, provider.ErrNotConnected)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeNotConnected, body.Error.Code)
	assert.Equal(t, "req-42", body.Error.RequestID)
}

func TestWriteError_RequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "from-client")
	rec := httptest.NewRecorder()

	WriteError(rec, req, http.StatusTeapot, "TEAPOT", "short and stout", map[string]any{"spout": true})

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "from-client", body.Error.RequestID)
	assert.Equal(t, true, body.Error.Details["spout"])
}

func TestWrapInternal(t *testing.T) {
	cause := stderrors.New("boom")
	err := WrapInternal(context.Background(), cause, "listing failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "INTERNAL_ERROR: listing failed: boom", err.Error())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WrapInternal(ctx, nil, "cancelled"), context.Canceled)
}
