// Package output writes photo listings and mirror results as JSONL.
//
// Every line is a Record envelope with a typed payload, so streams can be
// filtered with jq or replayed without knowing the producing command.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// Record types follow cloudphotos.<type>.v<version>.
const (
	TypePhoto    = "cloudphotos.photo.v1"
	TypeUpload   = "cloudphotos.upload.v1"
	TypeTransfer = "cloudphotos.transfer.v1"
	TypeSkip     = "cloudphotos.skip.v1"
	TypeError    = "cloudphotos.error.v1"
	TypeProgress = "cloudphotos.progress.v1"
	TypeSummary  = "cloudphotos.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the payload (e.g., "cloudphotos.photo.v1").
	Type string `json:"type"`

	// TS is when the record was written.
	TS time.Time `json:"ts"`

	// JobID correlates records from one command run.
	JobID string `json:"job_id"`

	// Provider identifies the photo service.
	Provider string `json:"provider"`

	// Data contains the type-specific payload.
	Data json.RawMessage `json:"data"`
}

// PhotoRecord is the payload for a listed photo.
type PhotoRecord struct {
	provider.Photo

	// Offset is the position of the photo in the search results.
	Offset int `json:"offset"`
}

// UploadRecord is the payload for an upload result.
type UploadRecord struct {
	Source string `json:"source"`
	provider.UploadResult
}

// TransferRecord is emitted after a photo was written to a sink.
type TransferRecord struct {
	NodeID      string `json:"node_id"`
	Name        string `json:"name"`
	Destination string `json:"destination"`
	Bytes       int64  `json:"bytes"`
	ContentType string `json:"content_type,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// SkipRecord is emitted for photos that were not transferred.
type SkipRecord struct {
	NodeID      string `json:"node_id"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Destination string `json:"destination,omitempty"`
}

// Skip reasons.
const (
	SkipExists   = "exists"
	SkipFiltered = "filtered"
	SkipFolder   = "folder"
	SkipDryRun   = "dry_run"
)

// ErrorRecord is the payload for a failed operation. Errors are recorded
// rather than aborting the run so partial results survive.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// NodeID is the photo involved, if any.
	NodeID string `json:"node_id,omitempty"`

	// Details carries extra context such as the upstream status.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeThrottled    = "THROTTLED"
	ErrCodeNotConnected = "NOT_CONNECTED"
	ErrCodeUpstream     = "UPSTREAM_ERROR"
	ErrCodeSinkFailed   = "SINK_FAILED"
	ErrCodeInternal     = "INTERNAL"
)

// ErrorCode classifies err into an ErrorRecord code.
func ErrorCode(err error) string {
	switch {
	case provider.IsTimeout(err):
		return ErrCodeTimeout
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case provider.IsNotFound(err):
		return ErrCodeNotFound
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return ErrCodeAccessDenied
	case errors.Is(err, provider.ErrNotConnected):
		return ErrCodeNotConnected
	case provider.IsProviderUnavailable(err):
		return ErrCodeUpstream
	}
	return ErrCodeInternal
}

// ProgressRecord is emitted periodically during long runs.
type ProgressRecord struct {
	Phase       string `json:"phase"`
	Pages       int    `json:"pages"`
	Seen        int64  `json:"seen"`
	Transferred int64  `json:"transferred"`
	Skipped     int64  `json:"skipped"`
	Errors      int64  `json:"errors"`
	Bytes       int64  `json:"bytes"`
}

// Progress phases.
const (
	PhaseStarting     = "starting"
	PhaseListing      = "listing"
	PhaseTransferring = "transferring"
	PhaseComplete     = "complete"
)

// SummaryRecord closes a run with aggregate counts.
type SummaryRecord struct {
	Pages         int           `json:"pages"`
	Seen          int64         `json:"seen"`
	Transferred   int64         `json:"transferred"`
	Skipped       int64         `json:"skipped"`
	Errors        int64         `json:"errors"`
	Bytes         int64         `json:"bytes"`
	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
	DryRun        bool          `json:"dry_run,omitempty"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // "marshal_data", "marshal_record" or "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
