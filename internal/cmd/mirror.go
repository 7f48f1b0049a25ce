package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/internal/observability"
	"github.com/3leaps/cloudphotos/pkg/match"
	"github.com/3leaps/cloudphotos/pkg/mirror"
	"github.com/3leaps/cloudphotos/pkg/output"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/sink"
	filesink "github.com/3leaps/cloudphotos/pkg/sink/file"
	s3sink "github.com/3leaps/cloudphotos/pkg/sink/s3"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy full-resolution photos to S3 or a local directory",
	Long: `Page through the library and copy every matching photo's original to an
S3 bucket (or S3-compatible store) or a local directory. Photos already
present at their destination key are skipped unless --overwrite is set.

One JSONL record is written per photo (transfer, skip or error) followed by
a summary record. Per-photo failures are recorded and do not stop the run.

Key template placeholders: {name} {id} {ext} {year} {month} {day}

Examples:
  cloudphotos mirror --bucket my-backup --prefix photos/
  cloudphotos mirror --bucket b --endpoint http://localhost:9000 --key-template "{year}/{month}/{name}"
  cloudphotos mirror --dir ./backup --include "*.jpg" --created-after 2024-01-01
  cloudphotos mirror --bucket my-backup --dry-run`,
	Args: cobra.NoArgs,
	RunE: runMirror,
}

var (
	mirrorBucket       string
	mirrorRegion       string
	mirrorEndpoint     string
	mirrorProfile      string
	mirrorStorageClass string
	mirrorDir          string

	mirrorPrefix      string
	mirrorKeyTemplate string
	mirrorQuery       string
	mirrorSort        string
	mirrorConcurrency int
	mirrorPageSize    int
	mirrorOverwrite   bool
	mirrorDryRun      bool
	mirrorOutput      string
	mirrorQuiet       bool

	mirrorIncludes      []string
	mirrorExcludes      []string
	mirrorIncludeHidden bool
	mirrorMinSize       string
	mirrorMaxSize       string
	mirrorAfter         string
	mirrorBefore        string
	mirrorContentTypes  []string
	mirrorNameRegex     string
)

func init() {
	rootCmd.AddCommand(mirrorCmd)

	f := mirrorCmd.Flags()
	f.StringVar(&mirrorBucket, "bucket", "", "Destination S3 bucket")
	f.StringVar(&mirrorRegion, "region", "", "AWS region")
	f.StringVar(&mirrorEndpoint, "endpoint", "", "Custom S3 endpoint (MinIO, Wasabi, ...)")
	f.StringVar(&mirrorProfile, "profile", "", "AWS shared config profile")
	f.StringVar(&mirrorStorageClass, "storage-class", "", "S3 storage class, e.g. STANDARD_IA")
	f.StringVar(&mirrorDir, "dir", "", "Destination directory instead of S3")

	f.StringVar(&mirrorPrefix, "prefix", "", "Key prefix for every object")
	f.StringVar(&mirrorKeyTemplate, "key-template", mirror.DefaultKeyTemplate, "Key template below the prefix")
	f.StringVar(&mirrorQuery, "query", "", "Search filter (default all photos)")
	f.StringVar(&mirrorSort, "sort", "", "Sort expression (default newest first)")
	f.IntVar(&mirrorConcurrency, "concurrency", 8, "Parallel copies")
	f.IntVar(&mirrorPageSize, "page-size", 200, "Catalog page size")
	f.BoolVar(&mirrorOverwrite, "overwrite", false, "Copy even when the key already exists")
	f.BoolVar(&mirrorDryRun, "dry-run", false, "List and filter without copying")
	f.StringVarP(&mirrorOutput, "output", "o", "", "JSONL destination (default stdout)")
	f.BoolVarP(&mirrorQuiet, "quiet", "q", false, "Suppress progress records")

	f.StringSliceVar(&mirrorIncludes, "include", []string{"*"}, "Glob patterns names must match")
	f.StringSliceVar(&mirrorExcludes, "exclude", nil, "Glob patterns names must not match")
	f.BoolVar(&mirrorIncludeHidden, "include-hidden", false, "Include names starting with '.'")
	f.StringVar(&mirrorMinSize, "min-size", "", "Minimum size, e.g. 100KB")
	f.StringVar(&mirrorMaxSize, "max-size", "", "Maximum size, e.g. 50MiB")
	f.StringVar(&mirrorAfter, "created-after", "", "Only photos created at or after this date")
	f.StringVar(&mirrorBefore, "created-before", "", "Only photos created before this date")
	f.StringSliceVar(&mirrorContentTypes, "content-type", nil, "Allowed content types, e.g. image/*")
	f.StringVar(&mirrorNameRegex, "name-regex", "", "Regular expression names must match")

	mirrorCmd.MarkFlagsMutuallyExclusive("bucket", "dir")
	mirrorCmd.MarkFlagsOneRequired("bucket", "dir")
}

func runMirror(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	matcher, err := match.New(match.Config{
		Includes:        mirrorIncludes,
		Excludes:        mirrorExcludes,
		IncludeHidden:   mirrorIncludeHidden,
		CaseInsensitive: true,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --include/--exclude", err)
	}
	filter, err := match.NewFilterFromConfig(mirrorFilterConfig())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
	}

	svc, err := userService(ctx)
	if err != nil {
		return err
	}

	dst, err := createSink(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	jobID := uuid.NewString()
	writer, cleanup, err := createMirrorWriter(jobID)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot open output", err)
	}
	defer cleanup()

	cfg := mirror.Config{
		Concurrency: mirrorConcurrency,
		PageSize:    mirrorPageSize,
		Query:       mirrorQuery,
		Sort:        mirrorSort,
		Prefix:      mirrorPrefix,
		KeyTemplate: mirrorKeyTemplate,
		Overwrite:   mirrorOverwrite,
		DryRun:      mirrorDryRun,
	}
	if !mirrorQuiet {
		cfg.ProgressEvery = mirror.DefaultConfig().ProgressEvery
	}

	opts := []mirror.Option{
		mirror.WithMatcher(matcher),
		mirror.WithLogger(observability.CLILogger.With(zap.String("job_id", jobID))),
	}
	if filter != nil {
		opts = append(opts, mirror.WithFilter(filter))
	}

	m, err := mirror.New(svc, dst, writer, cfg, opts...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid mirror configuration", err)
	}

	observability.CLILogger.Info("Mirror starting",
		zap.String("job_id", jobID),
		zap.String("destination", dst.URI(mirrorPrefix)),
		zap.Bool("dry_run", mirrorDryRun))

	summary, err := m.Run(ctx)
	if summary != nil {
		observability.CLILogger.Info("Mirror finished",
			zap.Int64("seen", summary.Seen),
			zap.Int64("transferred", summary.Transferred),
			zap.Int64("skipped", summary.Skipped),
			zap.Int64("errors", summary.Errors),
			zap.Int64("bytes", summary.Bytes),
			zap.Duration("duration", summary.Duration))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return exitError(foundry.ExitSignalInt, "Mirror cancelled", err)
		}
		return upstreamExit("Mirror failed", err)
	}
	if summary.Errors > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Mirror incomplete",
			fmt.Errorf("%d photo(s) failed", summary.Errors))
	}
	return nil
}

func mirrorFilterConfig() *match.FilterConfig {
	cfg := &match.FilterConfig{
		ContentType: mirrorContentTypes,
		NameRegex:   mirrorNameRegex,
	}
	if mirrorMinSize != "" || mirrorMaxSize != "" {
		cfg.Size = &match.SizeFilterConfig{Min: mirrorMinSize, Max: mirrorMaxSize}
	}
	if mirrorAfter != "" || mirrorBefore != "" {
		cfg.Created = &match.DateFilterConfig{After: mirrorAfter, Before: mirrorBefore}
	}
	return cfg
}

// createSink builds the destination from flags.
func createSink(ctx context.Context) (sink.Sink, error) {
	if mirrorDir != "" {
		s, err := filesink.New(filesink.Config{BaseDir: mirrorDir})
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --dir", err)
		}
		return s, nil
	}

	cfg := s3sink.Config{
		Bucket:       mirrorBucket,
		Region:       mirrorRegion,
		Endpoint:     mirrorEndpoint,
		Profile:      mirrorProfile,
		StorageClass: mirrorStorageClass,
		// S3-compatible services require path-style URLs.
		ForcePathStyle: mirrorEndpoint != "",
	}
	s, err := s3sink.New(ctx, cfg)
	if err != nil {
		var cfgErr *s3sink.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid S3 destination", err)
		}
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Cannot reach S3 destination", err)
	}
	return s, nil
}

// createMirrorWriter opens the JSONL destination.
// Returns the writer, a cleanup function, and any error.
func createMirrorWriter(jobID string) (output.Writer, func(), error) {
	providerName := provider.ProviderAmazonPhotos.String()
	if mirrorOutput == "" || mirrorOutput == "stdout" || mirrorOutput == "-" {
		w := output.NewJSONLWriter(os.Stdout, jobID, providerName)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(mirrorOutput, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, jobID, providerName)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}
