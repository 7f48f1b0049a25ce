package amazonphotos

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// StrategyKind names one historically valid thumbnail URL pattern.
type StrategyKind string

const (
	// PropertyImage is {content}/nodes/{id}/property/image?viewBox=N.
	PropertyImage StrategyKind = "property_image"

	// ThumbnailService is {thumbnails}/v1/thumbnail/{id}?viewBox=N&ownerId=S.
	ThumbnailService StrategyKind = "thumbnail_service"

	// ScaledContent is {content}/nodes/{id}/content?viewBox=N.
	ScaledContent StrategyKind = "scaled_content"

	// FullContent is {content}/nodes/{id}/content. It is the only
	// pattern used for full-resolution retrieval.
	FullContent StrategyKind = "full_content"
)

// DefaultThumbnailStrategies returns the thumbnail patterns in the order
// they are tried.
func DefaultThumbnailStrategies() []StrategyKind {
	return []StrategyKind{PropertyImage, ThumbnailService, ScaledContent}
}

// Valid reports whether k is a known thumbnail strategy.
func (k StrategyKind) Valid() bool {
	switch k {
	case PropertyImage, ThumbnailService, ScaledContent:
		return true
	}
	return false
}

// ParseStrategies converts names to strategy kinds.
func ParseStrategies(names []string) ([]StrategyKind, error) {
	out := make([]StrategyKind, 0, len(names))
	for _, n := range names {
		k := StrategyKind(n)
		if !k.Valid() {
			return nil, &ConfigError{Field: "ThumbnailStrategies", Message: "unknown strategy " + n}
		}
		out = append(out, k)
	}
	return out, nil
}

// strategyURL renders the pattern for one node.
func (p *Provider) strategyURL(k StrategyKind, eps provider.Endpoints, nodeID string) string {
	id := url.PathEscape(nodeID)
	viewBox := strconv.Itoa(p.cfg.ViewBox)

	switch k {
	case PropertyImage:
		return eps.ContentURL + "/nodes/" + id + "/property/image?viewBox=" + viewBox
	case ThumbnailService:
		q := url.Values{}
		q.Set("viewBox", viewBox)
		q.Set("ownerId", p.creds.SessionID())
		return p.cfg.ThumbnailURL + "/v1/thumbnail/" + id + "?" + q.Encode()
	case ScaledContent:
		return eps.ContentURL + "/nodes/" + id + "/content?viewBox=" + viewBox
	case FullContent:
		return eps.ContentURL + "/nodes/" + id + "/content"
	}
	return ""
}

var imageAccept = http.Header{"Accept": []string{"image/*"}}

// FetchThumbnail tries each thumbnail pattern in order and returns the
// first success. When all fail, the last pattern's error is returned.
func (p *Provider) FetchThumbnail(ctx context.Context, nodeID string) (*provider.Image, error) {
	return p.retrieve(ctx, nodeID, p.cfg.ThumbnailStrategies)
}

// FetchFull downloads the original content of a node.
func (p *Provider) FetchFull(ctx context.Context, nodeID string) (*provider.Image, error) {
	return p.retrieve(ctx, nodeID, []StrategyKind{FullContent})
}

func (p *Provider) retrieve(ctx context.Context, nodeID string, strategies []StrategyKind) (*provider.Image, error) {
	if nodeID == "" {
		return nil, &provider.ProviderError{Op: "Retrieve", Provider: provider.ProviderAmazonPhotos,
			Err: fmt.Errorf("%w: node id is required", provider.ErrInvalidRequest)}
	}

	eps := p.Endpoints(ctx)

	var (
		lastErr  error
		lastKind StrategyKind
	)
	attempts := 0
	for _, k := range strategies {
		target := p.strategyURL(k, eps, nodeID)
		attempts++
		img, err := p.fetchImage(ctx, string(k), target, p.creds.Header(p.cfg.UserAgent, imageAccept))
		if err == nil {
			return img, nil
		}
		p.log.Debug("Retrieval pattern failed",
			zap.String("node_id", nodeID),
			zap.String("strategy", string(k)),
			zap.Error(err))
		lastErr, lastKind = err, k

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &RetrievalError{NodeID: nodeID, Strategy: lastKind, Attempts: attempts, Err: lastErr}
}

// FetchFromTemporaryLink downloads a pre-signed link with no fallback.
// Callers fall back to node-based retrieval if the link has expired.
//
// The signature in the URL authorizes the request, so no session cookies
// or session id are sent.
func (p *Provider) FetchFromTemporaryLink(ctx context.Context, link string) (*provider.Image, error) {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &provider.ProviderError{Op: "FetchFromTemporaryLink", Provider: provider.ProviderAmazonPhotos,
			Err: fmt.Errorf("%w: temporary link must be an absolute http(s) url", provider.ErrInvalidRequest)}
	}
	header := http.Header{}
	header.Set("User-Agent", p.cfg.UserAgent)
	header.Set("Accept", "image/*")
	return p.fetchImage(ctx, "temp_link", link, header)
}

func (p *Provider) fetchImage(ctx context.Context, op, target string, header http.Header) (*provider.Image, error) {
	resp, err := p.send(ctx, op, http.MethodGet, target, nil, header, p.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &StatusError{Op: op, URL: redactURL(target), StatusCode: resp.status}
	}
	return &provider.Image{Data: resp.body, ContentType: resp.header.Get("Content-Type")}, nil
}

// redactURL drops the query, which may carry signatures or owner ids.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}
