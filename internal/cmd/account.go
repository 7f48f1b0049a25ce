package cmd

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print storage usage",
	Long: `Print the library's storage usage document as returned by Amazon.

Example:
  cloudphotos usage | jq .photo`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Print the discovered service endpoints",
	Long: `Run endpoint discovery for the stored session and print the content and
metadata base URLs. Discovery failures fall back to the configured defaults.`,
	Args: cobra.NoArgs,
	RunE: runEndpoints,
}

func init() {
	rootCmd.AddCommand(usageCmd, endpointsCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := userService(ctx)
	if err != nil {
		return err
	}
	doc, err := svc.Usage(ctx)
	if err != nil {
		return upstreamExit("Usage lookup failed", err)
	}
	return printJSON(doc)
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := userService(ctx)
	if err != nil {
		return err
	}
	resolver, ok := svc.(provider.EndpointResolver)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Endpoint discovery unsupported",
			errors.New("provider does not resolve endpoints"))
	}
	return printJSON(resolver.Endpoints(ctx))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}
