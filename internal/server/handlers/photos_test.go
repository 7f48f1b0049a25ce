package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudphotos/internal/server/middleware"
	"github.com/3leaps/cloudphotos/pkg/credstore"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

type fakeService struct {
	mu         sync.Mutex
	searchOpts []provider.SearchOptions
	links      []string
	fetched    []string
	uploads    []string

	linkErr   error
	nodeErr   error
	uploadErr error
}

func (f *fakeService) Search(_ context.Context, opts provider.SearchOptions) (*provider.SearchPage, error) {
	f.mu.Lock()
	f.searchOpts = append(f.searchOpts, opts)
	f.mu.Unlock()
	return &provider.SearchPage{
		Photos: []provider.Photo{{ID: "n1", Name: "a.jpg", Kind: provider.KindFile}},
		Count:  1,
		Offset: opts.Offset,
	}, nil
}

func (f *fakeService) FetchThumbnail(_ context.Context, nodeID string) (*provider.Image, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, "thumb:"+nodeID)
	f.mu.Unlock()
	if f.nodeErr != nil {
		return nil, f.nodeErr
	}
	return &provider.Image{Data: []byte("thumb"), ContentType: "image/png"}, nil
}

func (f *fakeService) FetchFull(_ context.Context, nodeID string) (*provider.Image, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, "full:"+nodeID)
	f.mu.Unlock()
	if f.nodeErr != nil {
		return nil, f.nodeErr
	}
	return &provider.Image{Data: []byte("full")}, nil
}

func (f *fakeService) FetchFromTemporaryLink(_ context.Context, link string) (*provider.Image, error) {
	f.mu.Lock()
	f.links = append(f.links, link)
	f.mu.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	return &provider.Image{Data: []byte("linked"), ContentType: "image/webp"}, nil
}

func (f *fakeService) Upload(_ context.Context, data []byte, filename, contentType string) (*provider.UploadResult, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, filename+"|"+contentType+"|"+string(data))
	f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &provider.UploadResult{Success: true, NodeID: "new-node", Name: filename}, nil
}

func (f *fakeService) Usage(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"lastCalculated":"2024-01-01T00:00:00Z","other":{"total":{"bytes":1}}}`), nil
}

// fakeSource serves svc for every user with stored credentials.
type fakeSource struct {
	store       credstore.Store
	svc         provider.PhotoService
	invalidated []string
}

func (s *fakeSource) Get(ctx context.Context, uid string) (provider.PhotoService, error) {
	if ok, _ := s.Connected(ctx, uid); !ok {
		return nil, provider.ErrNotConnected
	}
	return s.svc, nil
}

func (s *fakeSource) Connected(ctx context.Context, uid string) (bool, error) {
	_, err := s.store.Load(ctx, uid)
	return err == nil, nil
}

func (s *fakeSource) Invalidate(uid string) {
	s.invalidated = append(s.invalidated, uid)
}

func validCreds(t *testing.T) amazonphotos.Credentials {
	t.Helper()
	creds, err := amazonphotos.CredentialsFromMap(map[string]string{
		"session-id": "s", "ubid-main": "u", "at-main": "a",
	})
	require.NoError(t, err)
	return creds
}

type apiFixture struct {
	store  *credstore.MemoryStore
	source *fakeSource
	svc    *fakeService
	router chi.Router
}

func newAPIFixture(t *testing.T, connected bool, opts ...PhotosOption) *apiFixture {
	t.Helper()
	store := credstore.NewMemoryStore()
	if connected {
		require.NoError(t, store.Save(context.Background(), "alice", validCreds(t)))
	}
	svc := &fakeService{}
	source := &fakeSource{store: store, svc: svc}
	api := NewPhotosAPI(source, store, opts...)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), "alice")))
		})
	})
	api.Routes(r)
	return &apiFixture{store: store, source: source, svc: svc, router: r}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSaveCookies(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "map",
			body:       `{"cookies":{"session-id":"s","ubid-main":"u","at-main":"a","x-main":"x"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "export array",
			body:       `{"cookies":[{"name":"session-id","value":"s"},{"name":"ubid-main","value":"u"},{"name":"at-main","value":"a"}]}`,
			wantStatus: http.StatusOK,
		},
		{name: "missing required", body: `{"cookies":{"session-id":"s"}}`, wantStatus: http.StatusBadRequest},
		{name: "no cookies key", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "not json", body: `cookies`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, false)
			req := httptest.NewRequest(http.MethodPost, "/cookies", strings.NewReader(tt.body))
			rec := f.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
				_, err := f.store.Load(context.Background(), "alice")
				assert.ErrorIs(t, err, credstore.ErrNotFound)
				return
			}
			assert.JSONEq(t, `{"success":true}`, rec.Body.String())
			assert.Equal(t, []string{"alice"}, f.source.invalidated)
			creds, err := f.store.Load(context.Background(), "alice")
			require.NoError(t, err)
			assert.Equal(t, "s", creds.SessionID())
		})
	}
}

func TestDeleteCookiesAndStatus(t *testing.T) {
	f := newAPIFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connected":true}`, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/cookies", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, []string{"alice"}, f.source.invalidated)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.JSONEq(t, `{"connected":false}`, rec.Body.String())

	// Deleting again is not an error.
	rec = f.do(httptest.NewRequest(http.MethodDelete, "/cookies", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotConnected(t *testing.T) {
	f := newAPIFixture(t, false)

	for _, path := range []string{"/photos", "/usage", "/photo/n1"} {
		t.Run(path, func(t *testing.T) {
			rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "NOT_CONNECTED", errorCode(t, rec))
		})
	}
}

func TestListPhotos(t *testing.T) {
	f := newAPIFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/photos?offset=100&limit=25&query=type:(VIDEOS)&sort=name", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page provider.SearchPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 100, page.Offset)
	require.Len(t, page.Photos, 1)
	assert.Equal(t, "n1", page.Photos[0].ID)

	require.Len(t, f.svc.searchOpts, 1)
	assert.Equal(t, provider.SearchOptions{Query: "type:(VIDEOS)", Sort: "name", Offset: 100, Limit: 25}, f.svc.searchOpts[0])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/photos?offset=abc&limit=-3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.svc.searchOpts[1].Offset)
	assert.Equal(t, amazonphotos.DefaultSearchLimit, f.svc.searchOpts[1].Limit)
}

func TestUsagePassthrough(t *testing.T) {
	f := newAPIFixture(t, true)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/usage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"lastCalculated":"2024-01-01T00:00:00Z","other":{"total":{"bytes":1}}}`, rec.Body.String())
}

func TestGetPhoto(t *testing.T) {
	t.Run("thumbnail by node", func(t *testing.T) {
		f := newAPIFixture(t, true)
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "thumb", rec.Body.String())
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
		assert.Equal(t, []string{"thumb:n1"}, f.svc.fetched)
	})

	t.Run("full defaults to jpeg", func(t *testing.T) {
		f := newAPIFixture(t, true)
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1?type=full", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "full", rec.Body.String())
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	})

	t.Run("temp link with view box", func(t *testing.T) {
		f := newAPIFixture(t, true, WithViewBox(320))
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1?tempLink=https%3A%2F%2Fd1.cloudfront.net%2Fx%3Fsig%3D1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "linked", rec.Body.String())
		assert.Equal(t, []string{"https://d1.cloudfront.net/x?sig=1&viewBox=320"}, f.svc.links)
		assert.Empty(t, f.svc.fetched)
	})

	t.Run("full temp link untouched", func(t *testing.T) {
		f := newAPIFixture(t, true)
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1?type=full&tempLink=https%3A%2F%2Fd1.cloudfront.net%2Fx", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"https://d1.cloudfront.net/x"}, f.svc.links)
	})

	t.Run("temp link failure falls back", func(t *testing.T) {
		f := newAPIFixture(t, true)
		f.svc.linkErr = errors.New("expired")
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1?tempLink=https%3A%2F%2Fd1.cloudfront.net%2Fx", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "thumb", rec.Body.String())
		assert.Equal(t, []string{"thumb:n1"}, f.svc.fetched)
	})

	t.Run("temp link to other host is not fetched", func(t *testing.T) {
		for _, link := range []string{
			"https://127.0.0.1:8080/x",
			"http://d1.cloudfront.net/x",
			"https://evilamazon.com/x",
			"https://169.254.169.254/latest/meta-data",
		} {
			f := newAPIFixture(t, true)
			req := httptest.NewRequest(http.MethodGet, "/photo/n1?tempLink="+url.QueryEscape(link), nil)
			rec := f.do(req)

			require.Equal(t, http.StatusOK, rec.Code, link)
			assert.Equal(t, "thumb", rec.Body.String(), link)
			assert.Empty(t, f.svc.links, link)
		}
	})

	t.Run("custom temp link hosts", func(t *testing.T) {
		f := newAPIFixture(t, true, WithTempLinkHosts([]string{".photos.example.net"}))
		link := "https://img.photos.example.net/x"
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1?type=full&tempLink="+url.QueryEscape(link), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{link}, f.svc.links)
	})

	t.Run("all strategies fail", func(t *testing.T) {
		f := newAPIFixture(t, true)
		f.svc.nodeErr = &amazonphotos.RetrievalError{NodeID: "n1", Err: provider.ErrNotFound}
		rec := f.do(httptest.NewRequest(http.MethodGet, "/photo/n1", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "UPSTREAM_ERROR", errorCode(t, rec))
	})
}

func multipartBody(t *testing.T, data []byte, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		part, err := mw.CreateFormFile("photo", "local.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if filename != "" {
		require.NoError(t, mw.WriteField("filename", filename))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	t.Run("named upload", func(t *testing.T) {
		f := newAPIFixture(t, true)
		body, ct := multipartBody(t, []byte("pixels"), "holiday.jpg")
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := f.do(req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var result provider.UploadResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Success)
		assert.Equal(t, "new-node", result.NodeID)
		assert.Equal(t, []string{"holiday.jpg|application/octet-stream|pixels"}, f.svc.uploads)
	})

	t.Run("generated name", func(t *testing.T) {
		f := newAPIFixture(t, true)
		api := NewPhotosAPI(f.source, f.store)
		api.now = func() time.Time { return time.UnixMilli(1700000000123) }
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), "alice")))
			})
		})
		api.Routes(r)

		body, ct := multipartBody(t, []byte("pixels"), "")
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.svc.uploads, 1)
		assert.True(t, strings.HasPrefix(f.svc.uploads[0], "CloudPhotos_1700000000123.jpg|"))
	})

	t.Run("missing file", func(t *testing.T) {
		f := newAPIFixture(t, true)
		body, ct := multipartBody(t, nil, "x.jpg")
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := f.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
		assert.Empty(t, f.svc.uploads)
	})

	t.Run("too large", func(t *testing.T) {
		f := newAPIFixture(t, true, WithMaxUploadBytes(4))
		body, ct := multipartBody(t, []byte("more than four"), "")
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := f.do(req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, rec))
		assert.Empty(t, f.svc.uploads)
	})

	t.Run("upstream failure", func(t *testing.T) {
		f := newAPIFixture(t, true)
		f.svc.uploadErr = &amazonphotos.UploadError{StatusCode: 500, Body: "boom"}
		body, ct := multipartBody(t, []byte("pixels"), "a.jpg")
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := f.do(req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "UPSTREAM_ERROR", errorCode(t, rec))
	})
}

func TestWithViewBox(t *testing.T) {
	assert.Equal(t, "https://x/y?viewBox=600", withViewBox("https://x/y", 600))
	assert.Equal(t, "https://x/y?a=1&viewBox=600", withViewBox("https://x/y?a=1", 600))
}
