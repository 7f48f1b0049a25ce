package amazonphotos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// searchResponse is the raw search document.
type searchResponse struct {
	Data  []rawNode `json:"data"`
	Count int       `json:"count"`
}

// rawNode is an upstream node. Older and newer API versions place
// content metadata in different spots, so both are declared.
type rawNode struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Kind              string             `json:"kind"`
	Status            string             `json:"status"`
	CreatedDate       string             `json:"createdDate"`
	ModifiedDate      string             `json:"modifiedDate"`
	ContentType       string             `json:"contentType"`
	ContentProperties *contentProperties `json:"contentProperties"`
	Image             *imageProperties   `json:"image"`
	TempLink          string             `json:"tempLink"`
	LowResThumbnail   json.RawMessage    `json:"lowResThumbnail"`
}

type contentProperties struct {
	ContentType string           `json:"contentType"`
	Size        int64            `json:"size"`
	Image       *imageProperties `json:"image"`
}

type imageProperties struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Search returns one page of nodes matching opts.
func (p *Provider) Search(ctx context.Context, opts provider.SearchOptions) (*provider.SearchPage, error) {
	opts, err := normalizeSearchOptions(opts)
	if err != nil {
		return nil, &provider.ProviderError{Op: "Search", Provider: provider.ProviderAmazonPhotos, Err: err}
	}

	eps := p.Endpoints(ctx)
	reqURL := eps.MetadataURL + "/search?" + searchParams(opts).Encode()

	resp, err := p.do(ctx, "search", http.MethodGet, reqURL, nil, nil, p.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &QueryError{StatusCode: resp.status, Body: string(resp.body)}
	}

	var doc searchResponse
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return nil, &DecodeError{Op: "search", Err: err}
	}

	photos := make([]provider.Photo, 0, len(doc.Data))
	for i := range doc.Data {
		photos = append(photos, normalizeNode(&doc.Data[i]))
	}

	count := doc.Count
	if count <= 0 {
		count = len(photos)
	}

	return &provider.SearchPage{
		Photos:  photos,
		Count:   count,
		Offset:  opts.Offset,
		HasMore: len(photos) == opts.Limit,
	}, nil
}

func normalizeSearchOptions(opts provider.SearchOptions) (provider.SearchOptions, error) {
	if opts.Offset < 0 {
		return opts, fmt.Errorf("%w: offset must be >= 0", provider.ErrInvalidRequest)
	}
	if opts.Limit < 0 {
		return opts, fmt.Errorf("%w: limit must be > 0", provider.ErrInvalidRequest)
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if opts.Sort == "" {
		opts.Sort = DefaultSort
	}
	return opts, nil
}

func searchParams(opts provider.SearchOptions) url.Values {
	v := url.Values{}
	v.Set("asset", "ALL")
	v.Set("tempLink", "true")
	v.Set("resourceVersion", "V2")
	v.Set("ContentType", "JSON")
	v.Set("limit", strconv.Itoa(opts.Limit))
	v.Set("lowResThumbnail", "true")
	v.Set("searchContext", "customer")
	v.Set("sort", opts.Sort)
	v.Set("filters", opts.Query)
	v.Set("offset", strconv.Itoa(opts.Offset))
	return v
}

// normalizeNode projects a raw node onto a complete Photo record.
func normalizeNode(n *rawNode) provider.Photo {
	photo := provider.Photo{
		ID:              n.ID,
		Name:            n.Name,
		Kind:            provider.NodeKind(n.Kind),
		Status:          n.Status,
		CreatedDate:     n.CreatedDate,
		ModifiedDate:    n.ModifiedDate,
		TempLink:        n.TempLink,
		LowResThumbnail: thumbnailRef(n.LowResThumbnail),
	}
	if photo.Kind == "" {
		photo.Kind = provider.KindFile
	}

	var cpImage *imageProperties
	cpType := ""
	if cp := n.ContentProperties; cp != nil {
		photo.Size = cp.Size
		cpImage = cp.Image
		cpType = cp.ContentType
	}

	switch {
	case cpType != "":
		photo.ContentType = cpType
	case n.ContentType != "":
		photo.ContentType = n.ContentType
	default:
		photo.ContentType = "image/jpeg"
	}

	photo.Width = firstDimension(cpImage, n.Image, func(i *imageProperties) int { return i.Width })
	photo.Height = firstDimension(cpImage, n.Image, func(i *imageProperties) int { return i.Height })
	return photo
}

// firstDimension returns the first positive value, or nil.
func firstDimension(primary, secondary *imageProperties, get func(*imageProperties) int) *int {
	for _, img := range []*imageProperties{primary, secondary} {
		if img == nil {
			continue
		}
		if v := get(img); v > 0 {
			return &v
		}
	}
	return nil
}

// thumbnailRef accepts either a bare URL string or an object carrying one.
func thumbnailRef(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL      string `json:"url"`
		TempLink string `json:"tempLink"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.URL != "" {
			return obj.URL
		}
		return obj.TempLink
	}
	return ""
}
