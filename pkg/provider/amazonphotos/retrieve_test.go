package amazonphotos

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// patternCounters counts hits per retrieval pattern on a fake upstream.
type patternCounters struct {
	property, service, scaled, full atomic.Int32
}

// routePatterns wires the retrieval routes. status maps a strategy to the
// status its route answers with; 200 replies carry the strategy name as body.
func routePatterns(u *upstream, status map[StrategyKind]int) *patternCounters {
	c := &patternCounters{}
	reply := func(w http.ResponseWriter, k StrategyKind) {
		code, ok := status[k]
		if !ok {
			code = http.StatusNotFound
		}
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte(k))
	}

	u.mux.HandleFunc("GET /content/nodes/{id}/property/image", func(w http.ResponseWriter, r *http.Request) {
		c.property.Add(1)
		reply(w, PropertyImage)
	})
	u.mux.HandleFunc("GET /thumbs/v1/thumbnail/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.service.Add(1)
		reply(w, ThumbnailService)
	})
	u.mux.HandleFunc("GET /content/nodes/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("viewBox") != "" {
			c.scaled.Add(1)
			reply(w, ScaledContent)
			return
		}
		c.full.Add(1)
		reply(w, FullContent)
	})
	return c
}

func TestFetchThumbnail_FallsThroughToFirstSuccess(t *testing.T) {
	u := newUpstream(t)
	counts := routePatterns(u, map[StrategyKind]int{
		PropertyImage:    http.StatusNotFound,
		ThumbnailService: http.StatusInternalServerError,
		ScaledContent:    http.StatusOK,
	})
	p := u.provider(t)

	img, err := p.FetchThumbnail(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(ScaledContent), img.Data)
	assert.Equal(t, "image/jpeg", img.ContentType)

	assert.Equal(t, int32(1), counts.property.Load())
	assert.Equal(t, int32(1), counts.service.Load())
	assert.Equal(t, int32(1), counts.scaled.Load())
	assert.Zero(t, counts.full.Load())
}

func TestFetchThumbnail_StopsAfterFirstSuccess(t *testing.T) {
	u := newUpstream(t)
	counts := routePatterns(u, map[StrategyKind]int{
		PropertyImage:    http.StatusOK,
		ThumbnailService: http.StatusOK,
		ScaledContent:    http.StatusOK,
	})
	p := u.provider(t, func(c *Config) {
		c.ThumbnailStrategies = []StrategyKind{ThumbnailService, PropertyImage, ScaledContent}
	})

	img, err := p.FetchThumbnail(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(ThumbnailService), img.Data)

	assert.Equal(t, int32(1), counts.service.Load())
	assert.Zero(t, counts.property.Load())
	assert.Zero(t, counts.scaled.Load())
}

func TestFetchThumbnail_SendsViewBoxAndOwner(t *testing.T) {
	u := newUpstream(t)
	var viewBox, owner, accept string
	u.mux.HandleFunc("GET /thumbs/v1/thumbnail/{id}", func(w http.ResponseWriter, r *http.Request) {
		viewBox = r.URL.Query().Get("viewBox")
		owner = r.URL.Query().Get("ownerId")
		accept = r.Header.Get("Accept")
		_, _ = w.Write([]byte("ok"))
	})
	p := u.provider(t, func(c *Config) {
		c.ThumbnailStrategies = []StrategyKind{ThumbnailService}
		c.ViewBox = 320
	})

	_, err := p.FetchThumbnail(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, "320", viewBox)
	assert.Equal(t, "133-0000000-0000000", owner)
	assert.Equal(t, "image/*", accept)
}

func TestFetchThumbnail_AllPatternsFail(t *testing.T) {
	u := newUpstream(t)
	routePatterns(u, map[StrategyKind]int{
		PropertyImage:    http.StatusInternalServerError,
		ThumbnailService: http.StatusForbidden,
		ScaledContent:    http.StatusNotFound,
	})
	p := u.provider(t)

	_, err := p.FetchThumbnail(context.Background(), "node-1")
	require.Error(t, err)

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "node-1", rerr.NodeID)
	assert.Equal(t, ScaledContent, rerr.Strategy)
	assert.Equal(t, 3, rerr.Attempts)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
	assert.NotContains(t, serr.URL, "viewBox")
	assert.True(t, provider.IsNotFound(err))
}

func TestFetchThumbnail_CancelledCountsAttemptsMade(t *testing.T) {
	u := newUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var later atomic.Int32
	u.mux.HandleFunc("GET /content/nodes/{id}/property/image", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	})
	u.mux.HandleFunc("GET /thumbs/v1/thumbnail/{id}", func(w http.ResponseWriter, r *http.Request) {
		later.Add(1)
	})
	p := u.provider(t)
	p.Endpoints(context.Background())

	_, err := p.FetchThumbnail(ctx, "node-1")
	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Attempts)
	assert.Equal(t, PropertyImage, rerr.Strategy)
	assert.Zero(t, later.Load())
}

func TestFetchThumbnail_EmptyNodeID(t *testing.T) {
	u := newUpstream(t)
	p := u.provider(t)

	_, err := p.FetchThumbnail(context.Background(), "")
	require.ErrorIs(t, err, provider.ErrInvalidRequest)
	assert.Zero(t, u.discovery.Load())
}

func TestFetchFull_UsesContentPattern(t *testing.T) {
	u := newUpstream(t)
	counts := routePatterns(u, map[StrategyKind]int{FullContent: http.StatusOK})
	p := u.provider(t)

	img, err := p.FetchFull(context.Background(), "node-9")
	require.NoError(t, err)
	assert.Equal(t, []byte(FullContent), img.Data)
	assert.Equal(t, int32(1), counts.full.Load())
	assert.Zero(t, counts.scaled.Load())
}

func TestFetchFull_Timeout(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("GET /content/nodes/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	p := u.provider(t, func(c *Config) {
		c.RequestTimeout = 100 * time.Millisecond
		c.DiscoveryTimeout = time.Second
	})

	_, err := p.FetchFull(context.Background(), "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrUpstreamTimeout))
	assert.True(t, provider.IsRetryable(err))
}

func TestFetchFromTemporaryLink(t *testing.T) {
	u := newUpstream(t)
	var got http.Header
	u.mux.HandleFunc("GET /signed/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	u.mux.HandleFunc("GET /expired", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	p := u.provider(t)

	img, err := p.FetchFromTemporaryLink(context.Background(), u.srv.URL+"/signed/abc?sig=secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Empty(t, got.Get("Cookie"), "signed links carry no session cookies")
	assert.Empty(t, got.Get("x-amzn-sessionid"))
	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))

	_, err = p.FetchFromTemporaryLink(context.Background(), u.srv.URL+"/expired?sig=secret")
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.NotContains(t, serr.Error(), "secret")
	assert.True(t, provider.IsAccessDenied(err))
}

func TestFetchFromTemporaryLink_RejectsBadLinks(t *testing.T) {
	u := newUpstream(t)
	p := u.provider(t)

	for _, link := range []string{"", "not a url", "/relative/path", "ftp://host/file"} {
		_, err := p.FetchFromTemporaryLink(context.Background(), link)
		assert.ErrorIs(t, err, provider.ErrInvalidRequest, link)
	}
}
