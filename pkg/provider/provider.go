// Package provider defines abstractions for personal photo-library services.
//
// Providers expose a small surface focused on browsing (search), content
// retrieval and upload. Authentication is supplied by the caller when the
// provider is constructed; providers never persist credentials.
package provider

import (
	"context"
	"encoding/json"
)

// PhotoService abstracts a remote photo library for one authenticated user.
//
// Implementations should:
//   - Be safe for concurrent use
//   - Never retry on their own (the host decides retry policy)
//   - Honor context cancellation on every network call
type PhotoService interface {
	// Search returns one page of photo records.
	Search(ctx context.Context, opts SearchOptions) (*SearchPage, error)

	// FetchThumbnail returns scaled image bytes for a node.
	FetchThumbnail(ctx context.Context, nodeID string) (*Image, error)

	// FetchFull returns full-resolution image bytes for a node.
	FetchFull(ctx context.Context, nodeID string) (*Image, error)

	// FetchFromTemporaryLink downloads a pre-signed link as-is.
	FetchFromTemporaryLink(ctx context.Context, link string) (*Image, error)

	// Upload creates a new remote photo from raw bytes.
	Upload(ctx context.Context, data []byte, filename, contentType string) (*UploadResult, error)

	// Usage returns the upstream storage usage document unchanged.
	Usage(ctx context.Context) (json.RawMessage, error)
}

// EndpointResolver is implemented by providers that discover their
// service base URLs at runtime.
type EndpointResolver interface {
	Endpoints(ctx context.Context) Endpoints
}

// Endpoints holds the service base URLs used by every other call.
// Both values are normalized (no trailing slash).
type Endpoints struct {
	ContentURL  string `json:"contentUrl"`
	MetadataURL string `json:"metadataUrl"`
}

// SearchOptions configures a Search call.
type SearchOptions struct {
	// Query is a provider-specific filter expression.
	// Empty uses the provider default (all photos).
	Query string

	// Sort is a provider-specific sort expression.
	// Empty uses the provider default (newest first).
	Sort string

	// Offset is the zero-based index of the first record.
	Offset int

	// Limit is the page size. Zero uses the provider default.
	Limit int
}

// SearchPage is one page of search results.
type SearchPage struct {
	Photos []Photo `json:"photos"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`

	// HasMore is inferred: true when the page came back full.
	// Upstream totals are not reliable enough to do better.
	HasMore bool `json:"hasMore"`
}

// NodeKind distinguishes files from folders.
type NodeKind string

const (
	KindFile   NodeKind = "FILE"
	KindFolder NodeKind = "FOLDER"
)

// Photo is the normalized projection of a remote node.
//
// Every field has a deterministic fallback so records are structurally
// complete even when upstream omits data.
type Photo struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Kind            NodeKind `json:"kind"`
	Status          string   `json:"status"`
	CreatedDate     string   `json:"createdDate"`
	ModifiedDate    string   `json:"modifiedDate"`
	ContentType     string   `json:"contentType"`
	Width           *int     `json:"width"`
	Height          *int     `json:"height"`
	Size            int64    `json:"size"`
	TempLink        string   `json:"tempLink,omitempty"`
	LowResThumbnail string   `json:"lowResThumbnail,omitempty"`
}

// Image is a downloaded binary payload.
type Image struct {
	Data []byte

	// ContentType is the upstream Content-Type header, if any.
	ContentType string
}

// UploadResult describes the outcome of an Upload call.
type UploadResult struct {
	Success   bool   `json:"success"`
	NodeID    string `json:"nodeId,omitempty"`
	Name      string `json:"name"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`

	// Node is the decoded upstream node descriptor (empty when the
	// body was absent or not JSON).
	Node map[string]any `json:"node,omitempty"`
}

// ProviderType identifies a photo service.
type ProviderType string

const (
	// ProviderAmazonPhotos represents Amazon Photos (cookie session).
	ProviderAmazonPhotos ProviderType = "amazonphotos"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
