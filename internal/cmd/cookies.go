package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/internal/observability"
	"github.com/3leaps/cloudphotos/pkg/credstore"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Manage the stored Amazon session",
}

var cookiesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import browser cookies",
	Long: `Import cookies exported from a signed-in amazon.com browser tab.

The file may be JSON or YAML holding a name to value map, the same map under
a "cookies" key, or an array of {"name": ..., "value": ...} objects as
written by cookie-export extensions. session-id, ubid-main and at-main are
required.

Examples:
  cloudphotos cookies import cookies.json
  cloudphotos cookies import cookies.yaml --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runCookiesImport,
}

var cookiesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a session is stored",
	Args:  cobra.NoArgs,
	RunE:  runCookiesStatus,
}

var cookiesDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the stored session",
	Args:  cobra.NoArgs,
	RunE:  runCookiesDelete,
}

func init() {
	rootCmd.AddCommand(cookiesCmd)
	cookiesCmd.AddCommand(cookiesImportCmd, cookiesStatusCmd, cookiesDeleteCmd)
}

func runCookiesImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	creds, err := credstore.LoadCookieFile(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cookie file", err)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, userID, creds); err != nil {
		if errors.Is(err, credstore.ErrInvalidUserID) {
			return exitError(foundry.ExitInvalidArgument, "Invalid --user", err)
		}
		return exitError(foundry.ExitFileWriteError, "Cannot save session", err)
	}

	path, _ := store.Path(userID)
	observability.CLILogger.Info("Session imported",
		zap.String("user", userID),
		zap.Int("cookies", len(creds.Cookies())),
		zap.String("path", path))
	fmt.Printf("Stored %d cookies for user %q\n", len(creds.Cookies()), userID)
	return nil
}

func runCookiesStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, observability.CLILogger)
	if err != nil {
		return err
	}

	creds, err := store.Load(ctx, userID)
	switch {
	case errors.Is(err, credstore.ErrNotFound), errors.Is(err, credstore.ErrInvalidUserID):
		return printJSON(map[string]any{"user": userID, "connected": false})
	case err != nil:
		return exitError(foundry.ExitFileReadError, "Cannot read session", err)
	}

	names := make([]string, 0, len(creds.Cookies()))
	for _, c := range creds.Cookies() {
		names = append(names, c.Name)
	}
	return printJSON(map[string]any{"user": userID, "connected": true, "cookies": names})
}

func runCookiesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, userID); err != nil && !errors.Is(err, os.ErrNotExist) {
		return exitError(foundry.ExitFileWriteError, "Cannot delete session", err)
	}
	fmt.Printf("Deleted session for user %q\n", userID)
	return nil
}
