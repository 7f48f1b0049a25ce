package amazonphotos

import (
	"fmt"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: HTTP %d from %s", e.Op, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
}

// Unwrap exposes the status as a provider sentinel when one applies.
func (e *StatusError) Unwrap() error {
	return provider.ClassifyStatus(e.StatusCode)
}

// QueryError is returned when upstream rejects a search request.
type QueryError struct {
	StatusCode int
	Body       string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("search failed (%d): %s", e.StatusCode, e.Body)
}

func (e *QueryError) Unwrap() error {
	return provider.ClassifyStatus(e.StatusCode)
}

// UploadError is returned when upstream rejects an upload with a status
// other than 409.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%d): %s", e.StatusCode, e.Body)
}

func (e *UploadError) Unwrap() error {
	return provider.ClassifyStatus(e.StatusCode)
}

// RetrievalError is returned when every retrieval pattern failed.
// Err is the error from the last pattern tried.
type RetrievalError struct {
	NodeID   string
	Strategy StrategyKind
	Attempts int
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %d pattern(s) exhausted, last %s: %v", e.NodeID, e.Attempts, e.Strategy, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a 2xx response body is not the JSON the
// operation needs.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: malformed upstream response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
