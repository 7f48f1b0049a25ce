// Package cmd implements the cloudphotos command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/internal/config"
	"github.com/3leaps/cloudphotos/internal/observability"
	"github.com/3leaps/cloudphotos/internal/server/handlers"
)

// VersionInfo is the build metadata injected by main.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var appIdentity *config.AppIdentity

var (
	cfgFile string
	userID  string
	verbose bool
)

// DefaultUserID owns the credential file used by CLI commands.
const DefaultUserID = "local"

var rootCmd = &cobra.Command{
	Use:   "cloudphotos",
	Short: "Browse, fetch and upload Amazon Photos from the command line or an HTTP API",
	Long: `cloudphotos talks to an Amazon Photos library using a browser session
exported as cookies. Import the cookies once, then list, download, upload or
mirror photos, or run the HTTP API for a web UI.

Examples:
  cloudphotos cookies import cookies.json
  cloudphotos photos list --limit 20
  cloudphotos mirror --bucket my-backup --prefix photos/
  cloudphotos serve --port 8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./cloudphotos.yaml or user config dir)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", DefaultUserID, "User id whose stored session is used")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersionInfo records build metadata for the version command and
// the /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity installed by the root command, or nil
// before any command ran.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command and exits with the code carried by the
// returned error.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeOf(err))
	}
}

func initRoot(cmd *cobra.Command, _ []string) error {
	id := config.Identity()
	appIdentity = &id
	observability.InitCLILogger(id.BinaryName, verbose)
	config.SetConfigFile(cfgFile)
	return nil
}

// credentialsDir resolves where encrypted cookie files live.
func credentialsDir(cfg *config.Config) string {
	if cfg.Credentials.Dir != "" {
		return cfg.Credentials.Dir
	}
	name := config.DefaultIdentity.ConfigName
	if appIdentity != nil && appIdentity.ConfigName != "" {
		name = appIdentity.ConfigName
	}
	return filepath.Join(gfconfig.GetAppDataDir(name), "credentials")
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)$`)

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if m := exitCodePattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code
		}
	}
	if errors.Is(err, context.Canceled) {
		return foundry.ExitSignalInt
	}
	return 1
}

// ExitWithCode logs message and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	logger.Error(message, zap.Int("exit_code", code), zap.Error(err))
	os.Exit(code)
}
