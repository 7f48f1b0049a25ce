// Package registry caches one photo service per user.
//
// Services are built lazily from stored credentials through an injected
// Factory and evicted by size and age. Concurrent first lookups for the same
// user share one build.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/3leaps/cloudphotos/pkg/credstore"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

// Default eviction policy.
const (
	DefaultMaxEntries = 256
	DefaultTTL        = 30 * time.Minute
)

// Factory builds a service for one user's credentials.
type Factory func(ctx context.Context, uid string, creds amazonphotos.Credentials) (provider.PhotoService, error)

// Policy controls cache eviction.
type Policy struct {
	// MaxEntries bounds the number of cached services. Zero uses DefaultMaxEntries.
	MaxEntries int

	// TTL evicts services this long after they were built. Zero disables expiry.
	TTL time.Duration
}

// Registry maps user ids to live photo services.
type Registry struct {
	store   credstore.Store
	factory Factory
	cache   *expirable.LRU[string, provider.PhotoService]
	builds  singleflight.Group
	log     *zap.Logger

	// generations counts invalidations per user. A build only caches its
	// result when no invalidation happened while it ran.
	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a registry backed by store.
func New(store credstore.Store, factory Factory, policy Policy, logger *zap.Logger) *Registry {
	if policy.MaxEntries <= 0 {
		policy.MaxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{store: store, factory: factory, log: logger, generations: make(map[string]uint64)}
	r.cache = expirable.NewLRU[string, provider.PhotoService](policy.MaxEntries, r.onEvict, policy.TTL)
	return r
}

// AmazonPhotosFactory returns a Factory building amazonphotos providers
// from a base configuration. The credentials of each user replace
// base.Credentials.
func AmazonPhotosFactory(base amazonphotos.Config) Factory {
	return func(_ context.Context, uid string, creds amazonphotos.Credentials) (provider.PhotoService, error) {
		cfg := base
		cfg.Credentials = creds
		if cfg.Logger != nil {
			cfg.Logger = cfg.Logger.With(zap.String("uid", uid))
		}
		return amazonphotos.New(cfg)
	}
}

// Get returns the cached service for uid, building it on first use.
// It returns provider.ErrNotConnected when no credentials are stored.
func (r *Registry) Get(ctx context.Context, uid string) (provider.PhotoService, error) {
	if svc, ok := r.cache.Get(uid); ok {
		return svc, nil
	}

	v, err, _ := r.builds.Do(uid, func() (any, error) {
		if svc, ok := r.cache.Get(uid); ok {
			return svc, nil
		}
		gen := r.generation(uid)

		creds, err := r.store.Load(ctx, uid)
		if err != nil {
			if errors.Is(err, credstore.ErrNotFound) || errors.Is(err, credstore.ErrInvalidUserID) {
				return nil, provider.ErrNotConnected
			}
			return nil, fmt.Errorf("load credentials: %w", err)
		}

		svc, err := r.factory(ctx, uid, creds)
		if err != nil {
			return nil, fmt.Errorf("build service: %w", err)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generations[uid] != gen {
			r.log.Debug("Photo service built from superseded credentials, not cached", zap.String("uid", uid))
			return svc, nil
		}
		r.cache.Add(uid, svc)
		r.log.Debug("Photo service created", zap.String("uid", uid))
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(provider.PhotoService), nil
}

// Connected reports whether credentials are stored for uid.
func (r *Registry) Connected(ctx context.Context, uid string) (bool, error) {
	if r.cache.Contains(uid) {
		return true, nil
	}
	_, err := r.store.Load(ctx, uid)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, credstore.ErrNotFound), errors.Is(err, credstore.ErrInvalidUserID):
		return false, nil
	}
	return false, err
}

// Invalidate drops the cached service for uid. The next Get rebuilds it
// from the store, and a build already in flight is not cached.
func (r *Registry) Invalidate(uid string) {
	r.mu.Lock()
	r.generations[uid]++
	r.cache.Remove(uid)
	r.mu.Unlock()
	r.builds.Forget(uid)
}

func (r *Registry) generation(uid string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[uid]
}

// Len returns the number of cached services.
func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) onEvict(uid string, _ provider.PhotoService) {
	r.log.Debug("Photo service evicted", zap.String("uid", uid))
}
