package amazonphotos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// discoveryResponse is the account endpoint document.
type discoveryResponse struct {
	ContentURL  string `json:"contentUrl"`
	MetadataURL string `json:"metadataUrl"`
}

// Endpoints returns the content and metadata base URLs for this session.
//
// The first call performs discovery; later calls return the cached pair.
// Concurrent first calls share one discovery request. Discovery never
// fails: on any error the configured defaults are cached instead and
// discovery is not attempted again for the provider's lifetime.
func (p *Provider) Endpoints(ctx context.Context) provider.Endpoints {
	if eps, ok := p.cachedEndpoints(); ok {
		return eps
	}

	v, _, _ := p.discovery.Do("endpoints", func() (any, error) {
		if eps, ok := p.cachedEndpoints(); ok {
			return eps, nil
		}
		// Detached so one caller's cancellation cannot pin the defaults.
		eps := p.discover(context.WithoutCancel(ctx))

		p.mu.Lock()
		p.endpoints = &eps
		p.mu.Unlock()
		return eps, nil
	})
	return v.(provider.Endpoints)
}

func (p *Provider) cachedEndpoints() (provider.Endpoints, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.endpoints == nil {
		return provider.Endpoints{}, false
	}
	return *p.endpoints, true
}

func (p *Provider) defaultEndpoints() provider.Endpoints {
	return provider.Endpoints{
		ContentURL:  p.cfg.DefaultContentURL,
		MetadataURL: p.cfg.DefaultMetadataURL,
	}
}

// discover performs the discovery request, falling back to defaults.
func (p *Provider) discover(ctx context.Context) provider.Endpoints {
	eps, err := p.fetchEndpoints(ctx)
	if err != nil {
		p.log.Warn("Endpoint discovery failed, using defaults",
			zap.String("content_url", p.cfg.DefaultContentURL),
			zap.String("metadata_url", p.cfg.DefaultMetadataURL),
			zap.Error(err))
		return p.defaultEndpoints()
	}
	p.log.Debug("Discovered endpoints",
		zap.String("content_url", eps.ContentURL),
		zap.String("metadata_url", eps.MetadataURL))
	return eps
}

func (p *Provider) fetchEndpoints(ctx context.Context) (provider.Endpoints, error) {
	resp, err := p.do(ctx, "discover", http.MethodGet, p.cfg.DiscoveryURL, nil, nil, p.cfg.DiscoveryTimeout)
	if err != nil {
		return provider.Endpoints{}, err
	}
	if !resp.ok() {
		return provider.Endpoints{}, &StatusError{Op: "discover", URL: p.cfg.DiscoveryURL, StatusCode: resp.status}
	}

	var doc discoveryResponse
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return provider.Endpoints{}, &DecodeError{Op: "discover", Err: err}
	}
	if doc.ContentURL == "" && doc.MetadataURL == "" {
		return provider.Endpoints{}, &DecodeError{Op: "discover", Err: errors.New("no endpoint urls in response")}
	}

	eps := p.defaultEndpoints()
	if u := trimSlash(doc.ContentURL); u != "" {
		eps.ContentURL = u
	}
	if u := trimSlash(doc.MetadataURL); u != "" {
		eps.MetadataURL = u
	}
	return eps, nil
}
