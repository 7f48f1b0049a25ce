package amazonphotos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// Provider implements provider.PhotoService for one Amazon Photos session.
//
// A Provider is safe for concurrent use. The only shared mutable state is
// the cached endpoint pair.
type Provider struct {
	cfg     Config
	creds   Credentials
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	mu        sync.RWMutex
	endpoints *provider.Endpoints
	discovery singleflight.Group
}

// Ensure Provider implements the interfaces.
var (
	_ provider.PhotoService     = (*Provider)(nil)
	_ provider.EndpointResolver = (*Provider)(nil)
)

// New creates a provider for the given session. No network call is made
// until the first operation.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &Provider{
		cfg:    cfg,
		creds:  cfg.Credentials,
		client: cfg.HTTPClient,
		log:    cfg.Logger.With(zap.String("provider", provider.ProviderAmazonPhotos.String())),
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return p, nil
}

// Credentials returns the session the provider was built with.
func (p *Provider) Credentials() Credentials {
	return p.creds
}

// response is a fully read upstream response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do sends one session-authenticated request and reads the whole body
// within timeout.
func (p *Provider) do(ctx context.Context, op, method, url string, body io.Reader, extra http.Header, timeout time.Duration) (*response, error) {
	return p.send(ctx, op, method, url, body, p.creds.Header(p.cfg.UserAgent, extra), timeout)
}

// send issues a request with exactly header.
func (p *Provider) send(ctx context.Context, op, method, url string, body io.Reader, header http.Header, timeout time.Duration) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, wrapTransport(op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header = header

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapTransport(op, err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// wrapTransport tags deadline failures with provider.ErrUpstreamTimeout.
func wrapTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, provider.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
