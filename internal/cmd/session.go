package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/internal/config"
	"github.com/3leaps/cloudphotos/internal/observability"
	"github.com/3leaps/cloudphotos/pkg/credstore"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
	"github.com/3leaps/cloudphotos/pkg/registry"
)

// loadConfig loads configuration, mapping failures to an invalid-argument exit.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// amazonConfig translates the amazon config section into adapter settings.
// Credentials are filled in per user by the registry factory.
func amazonConfig(cfg *config.Config, logger *zap.Logger) (amazonphotos.Config, error) {
	strategies, err := amazonphotos.ParseStrategies(cfg.Amazon.ThumbnailStrategies)
	if err != nil {
		return amazonphotos.Config{}, err
	}
	return amazonphotos.Config{
		DiscoveryURL:        cfg.Amazon.DiscoveryURL,
		DefaultContentURL:   cfg.Amazon.ContentURL,
		DefaultMetadataURL:  cfg.Amazon.MetadataURL,
		ThumbnailURL:        cfg.Amazon.ThumbnailURL,
		ThumbnailStrategies: strategies,
		ViewBox:             cfg.Amazon.ViewBox,
		UserAgent:           cfg.Amazon.UserAgent,
		RequestTimeout:      cfg.Amazon.RequestTimeout,
		DiscoveryTimeout:    cfg.Amazon.DiscoveryTimeout,
		RequestsPerSecond:   cfg.Amazon.RequestsPerSecond,
		Burst:               cfg.Amazon.Burst,
		Logger:              logger,
	}, nil
}

// openStore opens the encrypted cookie store.
func openStore(cfg *config.Config, logger *zap.Logger) (*credstore.FileStore, error) {
	if cfg.Credentials.Key == "" {
		id := config.Identity()
		return nil, exitError(foundry.ExitInvalidArgument, "No cookie encryption key configured",
			fmt.Errorf("set %s_COOKIE_KEY or credentials.key in the config file", id.EnvPrefix))
	}
	store, err := credstore.NewFileStore(credentialsDir(cfg), cfg.Credentials.Key, logger)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Cannot open credential store", err)
	}
	return store, nil
}

// newRegistry builds the per-user service registry over store.
func newRegistry(cfg *config.Config, store credstore.Store, logger *zap.Logger) (*registry.Registry, error) {
	base, err := amazonConfig(cfg, logger)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid amazon configuration", err)
	}
	policy := registry.Policy{MaxEntries: cfg.Registry.MaxEntries, TTL: cfg.Registry.TTL}
	return registry.New(store, registry.AmazonPhotosFactory(base), policy, logger), nil
}

// userService loads config and returns the photo service for --user.
func userService(ctx context.Context) (provider.PhotoService, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger := observability.CLILogger
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	svc, err := reg.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, provider.ErrNotConnected) {
			return nil, exitError(foundry.ExitFileNotFound, "No stored session for user "+userID,
				fmt.Errorf("%w: run 'cloudphotos cookies import <file>' first", err))
		}
		return nil, exitError(foundry.ExitFileReadError, "Cannot open stored session", err)
	}
	return svc, nil
}

// upstreamExit maps an adapter error to an exit error.
func upstreamExit(message string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, message, err)
	case errors.Is(err, provider.ErrInvalidRequest):
		return exitError(foundry.ExitInvalidArgument, message, err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, message, err)
}
