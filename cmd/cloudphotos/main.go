// Command cloudphotos is the Amazon Photos CLI and HTTP API.
package main

import (
	"context"

	"github.com/3leaps/cloudphotos/internal/cmd"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute(context.Background())
}
