package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/internal/config"
	"github.com/3leaps/cloudphotos/internal/observability"
	"github.com/3leaps/cloudphotos/internal/server"
	"github.com/3leaps/cloudphotos/internal/server/handlers"
	"github.com/3leaps/cloudphotos/internal/server/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API used by the web UI.

Requests to /api/amazon must carry "Authorization: Bearer <token>" where the
token is listed under auth.tokens. With no tokens configured the server only
binds loopback addresses and serves every request as --user.

Examples:
  cloudphotos serve
  cloudphotos serve --host 0.0.0.0 --port 9000 --config cloudphotos.yaml`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server.host"] = serveHost
	}
	if servePort != 0 {
		overrides["server.port"] = servePort
	}
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg, store, logger)
	if err != nil {
		return err
	}

	api := handlers.NewPhotosAPI(reg, store,
		handlers.WithMaxUploadBytes(cfg.Upload.MaxBytes),
		handlers.WithViewBox(cfg.Amazon.ViewBox),
		handlers.WithTempLinkHosts(cfg.Amazon.TempLinkHosts),
		handlers.WithLogger(logger))

	opts := []server.Option{
		server.WithPhotosAPI(api),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithLogger(logger),
	}
	if tokens := cfg.Auth.TokenMap(); len(tokens) > 0 {
		opts = append(opts, server.WithAuth(middleware.StaticTokens(tokens)))
	} else {
		if !isLoopback(cfg.Server.Host) {
			return exitError(foundry.ExitInvalidArgument, "Refusing to serve without auth.tokens",
				fmt.Errorf("host %q is not a loopback address", cfg.Server.Host))
		}
		logger.Warn("No auth tokens configured; serving a single user on loopback", zap.String("user", userID))
		opts = append(opts, server.WithFixedUser(userID))
	}

	if cfg.Health.Enabled {
		initHealth(store.Dir())
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("cloudphotos API started",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("credentials_dir", store.Dir()))

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitSignalInt, "Shutdown did not complete", err)
	}
	if err := <-errCh; err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	logger.Info("cloudphotos API stopped")
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// initHealth installs the process-wide health manager with the serve
// checkers.
func initHealth(credentialsDir string) *handlers.HealthManager {
	id := config.Identity()
	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("signals", signalHealthChecker{})
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	hm.RegisterChecker("credentials", credentialDirChecker{dir: credentialsDir})
	return hm
}

// signalHealthChecker reports healthy while the process is serving.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

// credentialDirChecker verifies the credential directory is still a
// directory.
type credentialDirChecker struct {
	dir string
}

func (c credentialDirChecker) CheckHealth(ctx context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("credential dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("credential dir %s is not a directory", c.dir)
	}
	return nil
}
