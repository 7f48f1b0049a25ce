// Package sink defines destinations that mirrored photos are written to.
package sink

import (
	"context"
	"fmt"
)

// Type identifies a sink implementation.
type Type string

const (
	TypeS3   Type = "s3"
	TypeFile Type = "file"
)

// Sink stores photo bytes under a key.
//
// Implementations are safe for concurrent use.
type Sink interface {
	// Exists reports whether an object is already stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// URI renders a human-readable location for key, for records and logs.
	URI(key string) string

	// Close releases any resources held by the sink.
	Close() error
}

// Error wraps sink failures with context. Err is a provider sentinel when
// the failure could be classified.
type Error struct {
	Op   string
	Sink Type
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s sink %s %s: %v", e.Sink, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s sink %s: %v", e.Sink, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
