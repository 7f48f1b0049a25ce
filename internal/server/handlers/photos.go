package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloudphotos/internal/errors"
	"github.com/3leaps/cloudphotos/internal/server/middleware"
	"github.com/3leaps/cloudphotos/pkg/credstore"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

// DefaultMaxUploadBytes bounds upload request bodies.
const DefaultMaxUploadBytes int64 = 50 << 20

// DefaultTempLinkHosts are the host suffixes Amazon serves pre-signed
// image links from.
var DefaultTempLinkHosts = []string{"amazon.com", "media-amazon.com", "cloudfront.net", "amazonaws.com"}

// photoCacheControl is sent with every proxied image.
const photoCacheControl = "public, max-age=86400"

// ServiceSource hands out per-user photo services. *registry.Registry
// implements it.
type ServiceSource interface {
	Get(ctx context.Context, uid string) (provider.PhotoService, error)
	Connected(ctx context.Context, uid string) (bool, error)
	Invalidate(uid string)
}

// PhotosAPI serves the /api/amazon routes.
type PhotosAPI struct {
	services       ServiceSource
	store          credstore.Store
	maxUploadBytes int64
	viewBox        int
	tempLinkHosts  []string
	logger         *zap.Logger
	now            func() time.Time
}

// PhotosOption customizes a PhotosAPI.
type PhotosOption func(*PhotosAPI)

// WithMaxUploadBytes sets the upload size limit.
func WithMaxUploadBytes(n int64) PhotosOption {
	return func(a *PhotosAPI) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

// WithViewBox sets the edge length requested from temporary links for
// thumbnails.
func WithViewBox(n int) PhotosOption {
	return func(a *PhotosAPI) {
		if n > 0 {
			a.viewBox = n
		}
	}
}

// WithTempLinkHosts replaces the host suffixes a tempLink may point at.
// Links to other hosts are ignored in favor of node retrieval.
func WithTempLinkHosts(suffixes []string) PhotosOption {
	return func(a *PhotosAPI) {
		if len(suffixes) > 0 {
			a.tempLinkHosts = suffixes
		}
	}
}

// WithLogger sets the API logger.
func WithLogger(l *zap.Logger) PhotosOption {
	return func(a *PhotosAPI) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewPhotosAPI builds the API. store receives cookie saves and deletes;
// services resolves per-user upstream sessions from the same store.
func NewPhotosAPI(services ServiceSource, store credstore.Store, opts ...PhotosOption) *PhotosAPI {
	a := &PhotosAPI{
		services:       services,
		store:          store,
		maxUploadBytes: DefaultMaxUploadBytes,
		viewBox:        amazonphotos.DefaultViewBox,
		tempLinkHosts:  DefaultTempLinkHosts,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes mounts the API on r. Callers wrap r with authentication.
func (a *PhotosAPI) Routes(r chi.Router) {
	r.Post("/cookies", a.SaveCookies)
	r.Delete("/cookies", a.DeleteCookies)
	r.Get("/status", a.Status)
	r.Get("/usage", a.Usage)
	r.Get("/photos", a.ListPhotos)
	r.Get("/photo/{nodeId}", a.GetPhoto)
	r.Post("/upload", a.Upload)
}

type successResponse struct {
	Success bool `json:"success"`
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

// SaveCookies stores the caller's Amazon session and drops any cached
// service built from the previous one.
func (a *PhotosAPI) SaveCookies(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UserID(r.Context())

	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		respondWithError(w, r, apperrors.NewInvalidRequest("request body must be a JSON object"))
		return
	}
	raw, ok := body["cookies"]
	if !ok || raw == nil {
		respondWithError(w, r, apperrors.NewInvalidRequest("missing required cookies (session-id, ubid-main, at-main)"))
		return
	}

	creds, err := credstore.CredentialsFromAny(raw)
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if err := a.store.Save(r.Context(), uid, creds); err != nil {
		if !errors.Is(err, credstore.ErrInvalidUserID) {
			err = apperrors.WrapInternal(r.Context(), err, "failed to save cookies")
		}
		respondWithError(w, r, err)
		return
	}
	a.services.Invalidate(uid)

	a.logger.Info("amazon session saved", zap.String("user", uid), zap.Int("cookies", len(creds.Cookies())))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// DeleteCookies forgets the caller's Amazon session.
func (a *PhotosAPI) DeleteCookies(w http.ResponseWriter, r *http.Request) {
	uid := middleware.UserID(r.Context())
	if err := a.store.Delete(r.Context(), uid); err != nil {
		if !errors.Is(err, credstore.ErrInvalidUserID) {
			err = apperrors.WrapInternal(r.Context(), err, "failed to delete cookies")
		}
		respondWithError(w, r, err)
		return
	}
	a.services.Invalidate(uid)
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Status reports whether the caller has a stored session.
func (a *PhotosAPI) Status(w http.ResponseWriter, r *http.Request) {
	connected, err := a.services.Connected(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Connected: connected})
}

// Usage passes the upstream usage document through unchanged.
func (a *PhotosAPI) Usage(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}
	doc, err := svc.Usage(r.Context())
	if err != nil {
		a.upstreamFailed(w, r, "usage", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// ListPhotos returns one page of the caller's library. Unparsable numbers
// fall back to the defaults.
func (a *PhotosAPI) ListPhotos(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := provider.SearchOptions{
		Query:  q.Get("query"),
		Sort:   q.Get("sort"),
		Offset: intParam(q, "offset", 0),
		Limit:  intParam(q, "limit", amazonphotos.DefaultSearchLimit),
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Limit <= 0 {
		opts.Limit = amazonphotos.DefaultSearchLimit
	}

	page, err := svc.Search(r.Context(), opts)
	if err != nil {
		a.upstreamFailed(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetPhoto proxies image bytes. A tempLink, when given, is tried first and
// any failure falls back to node retrieval.
func (a *PhotosAPI) GetPhoto(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}

	nodeID := chi.URLParam(r, "nodeId")
	q := r.URL.Query()
	full := q.Get("type") == "full"

	var (
		img *provider.Image
		err error
	)
	link := q.Get("tempLink")
	if link != "" && !a.tempLinkAllowed(link) {
		a.logger.Debug("temp link host not allowed, using node retrieval", zap.String("node_id", nodeID))
		link = ""
	}
	if link != "" {
		if !full {
			link = withViewBox(link, a.viewBox)
		}
		img, err = svc.FetchFromTemporaryLink(r.Context(), link)
		if err != nil {
			a.logger.Debug("temp link failed, falling back to node retrieval",
				zap.String("node_id", nodeID), zap.Error(err))
		}
	}
	if img == nil {
		if full {
			img, err = svc.FetchFull(r.Context(), nodeID)
		} else {
			img, err = svc.FetchThumbnail(r.Context(), nodeID)
		}
	}
	if err != nil {
		a.upstreamFailed(w, r, "photo", err)
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", photoCacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

// Upload accepts multipart field "photo" and an optional "filename".
func (a *PhotosAPI) Upload(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r)
	if !ok {
		return
	}

	// Multipart framing adds a little over the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewPayloadTooLarge(a.maxUploadBytes))
			return
		}
		respondWithError(w, r, apperrors.NewInvalidRequest("expected multipart/form-data body"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("photo")
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidRequest("no file provided"))
		return
	}
	defer func() { _ = file.Close() }()
	if header.Size > a.maxUploadBytes {
		respondWithError(w, r, apperrors.NewPayloadTooLarge(a.maxUploadBytes))
		return
	}

	data, err := readPart(file, a.maxUploadBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	filename := strings.TrimSpace(r.FormValue("filename"))
	if filename == "" {
		filename = fmt.Sprintf("CloudPhotos_%d.jpg", a.now().UnixMilli())
	}

	a.logger.Info("upload received",
		zap.String("user", middleware.UserID(r.Context())),
		zap.String("original_name", header.Filename),
		zap.Int("size", len(data)),
		zap.String("content_type", header.Header.Get("Content-Type")))

	result, err := svc.Upload(r.Context(), data, filename, header.Header.Get("Content-Type"))
	if err != nil {
		a.upstreamFailed(w, r, "upload", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// service resolves the caller's session, writing NOT_CONNECTED when absent.
func (a *PhotosAPI) service(w http.ResponseWriter, r *http.Request) (provider.PhotoService, bool) {
	svc, err := a.services.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respondWithError(w, r, err)
		return nil, false
	}
	return svc, true
}

func (a *PhotosAPI) upstreamFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	a.logger.Warn("upstream call failed",
		zap.String("op", op),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err))
	respondWithError(w, r, err)
}

func readPart(f multipart.File, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, apperrors.NewInvalidRequest("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, apperrors.NewPayloadTooLarge(limit)
	}
	return data, nil
}

func intParam(q url.Values, key string, def int) int {
	v, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return def
	}
	return v
}

// withViewBox appends viewBox=n to a pre-signed link without disturbing
// its existing query.
// tempLinkAllowed accepts https links whose host is, or is a subdomain of,
// an allowed suffix.
func (a *PhotosAPI) tempLinkAllowed(link string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range a.tempLinkHosts {
		suffix = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(suffix), "."))
		if suffix != "" && (host == suffix || strings.HasSuffix(host, "."+suffix)) {
			return true
		}
	}
	return false
}

func withViewBox(link string, n int) string {
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "viewBox=" + strconv.Itoa(n)
}
