package cmd

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/internal/observability"
	"github.com/3leaps/cloudphotos/pkg/output"
	"github.com/3leaps/cloudphotos/pkg/provider"
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "List, download and upload photos",
}

var photosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List photos as JSONL",
	Long: `List photos in the library. Each photo is one JSONL record on stdout.

Examples:
  cloudphotos photos list
  cloudphotos photos list --limit 20 --offset 40
  cloudphotos photos list --all --query "type:(PHOTOS) AND createdDate:[2023-01-01T00:00:00Z TO *]"`,
	Args: cobra.NoArgs,
	RunE: runPhotosList,
}

var photosGetCmd = &cobra.Command{
	Use:   "get <nodeId>",
	Short: "Download one photo",
	Long: `Download a thumbnail (default) or the full-resolution original.

Examples:
  cloudphotos photos get AbCdEf -o thumb.jpg
  cloudphotos photos get AbCdEf --full -o original.jpg
  cloudphotos photos get AbCdEf --temp-link "https://..." -o thumb.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotosGet,
}

var photosUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload photos",
	Long: `Upload one or more local files. One JSONL upload record is written per file.

Examples:
  cloudphotos photos upload holiday.jpg
  cloudphotos photos upload *.png --name-prefix scan_`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPhotosUpload,
}

var (
	listQuery  string
	listSort   string
	listOffset int
	listLimit  int
	listAll    bool

	getOutput   string
	getFull     bool
	getTempLink string

	uploadNamePrefix string
)

func init() {
	rootCmd.AddCommand(photosCmd)
	photosCmd.AddCommand(photosListCmd, photosGetCmd, photosUploadCmd)

	photosListCmd.Flags().StringVar(&listQuery, "query", "", "Search filter (default all photos)")
	photosListCmd.Flags().StringVar(&listSort, "sort", "", "Sort expression (default newest first)")
	photosListCmd.Flags().IntVar(&listOffset, "offset", 0, "Index of the first photo")
	photosListCmd.Flags().IntVar(&listLimit, "limit", 50, "Page size")
	photosListCmd.Flags().BoolVar(&listAll, "all", false, "Keep paging until the library is exhausted")

	photosGetCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Destination file (default stdout)")
	photosGetCmd.Flags().BoolVar(&getFull, "full", false, "Download the full-resolution original")
	photosGetCmd.Flags().StringVar(&getTempLink, "temp-link", "", "Try this pre-signed link before node retrieval")

	photosUploadCmd.Flags().StringVar(&uploadNamePrefix, "name-prefix", "", "Prefix added to each uploaded file name")
}

func runPhotosList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := userService(ctx)
	if err != nil {
		return err
	}

	w := output.NewJSONLWriter(os.Stdout, uuid.NewString(), provider.ProviderAmazonPhotos.String())
	defer func() { _ = w.Close() }()

	opts := provider.SearchOptions{Query: listQuery, Sort: listSort, Offset: listOffset, Limit: listLimit}
	for {
		page, err := svc.Search(ctx, opts)
		if err != nil {
			observability.CLILogger.Error("Search failed", zap.Int("offset", opts.Offset), zap.Error(err))
			return upstreamExit("Search failed", err)
		}
		for i := range page.Photos {
			rec := &output.PhotoRecord{Photo: page.Photos[i], Offset: page.Offset + i}
			if err := w.WritePhoto(ctx, rec); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		if !listAll || !page.HasMore {
			return nil
		}
		opts.Offset = page.Offset + len(page.Photos)
	}
}

func runPhotosGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	nodeID := args[0]
	svc, err := userService(ctx)
	if err != nil {
		return err
	}

	var img *provider.Image
	if getTempLink != "" {
		img, err = svc.FetchFromTemporaryLink(ctx, getTempLink)
		if err != nil {
			observability.CLILogger.Debug("Temp link failed, using node retrieval", zap.Error(err))
			img = nil
		}
	}
	if img == nil {
		if getFull {
			img, err = svc.FetchFull(ctx, nodeID)
		} else {
			img, err = svc.FetchThumbnail(ctx, nodeID)
		}
		if err != nil {
			observability.CLILogger.Error("Download failed", zap.String("node_id", nodeID), zap.Error(err))
			return upstreamExit("Download failed", err)
		}
	}

	var dst io.Writer = os.Stdout
	if getOutput != "" && getOutput != "-" {
		f, err := os.Create(getOutput)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot create output file", err)
		}
		defer func() { _ = f.Close() }()
		dst = f
	}
	if _, err := dst.Write(img.Data); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write photo", err)
	}

	observability.CLILogger.Info("Photo downloaded",
		zap.String("node_id", nodeID),
		zap.Int("bytes", len(img.Data)),
		zap.String("content_type", img.ContentType),
		zap.String("output", getOutput))
	return nil
}

func runPhotosUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := userService(ctx)
	if err != nil {
		return err
	}

	w := output.NewJSONLWriter(os.Stdout, uuid.NewString(), provider.ProviderAmazonPhotos.String())
	defer func() { _ = w.Close() }()

	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Cannot read "+path, err)
		}
		name := uploadNamePrefix + filepath.Base(path)
		start := time.Now()

		result, err := svc.Upload(ctx, data, name, detectContentType(path, data))
		if err != nil {
			failed++
			observability.CLILogger.Error("Upload failed", zap.String("file", path), zap.Error(err))
			_ = w.WriteError(ctx, &output.ErrorRecord{
				Code:    output.ErrorCode(err),
				Message: err.Error(),
				Details: map[string]string{"file": path},
			})
			continue
		}
		observability.CLILogger.Debug("Upload finished", zap.String("file", path), zap.Duration("took", time.Since(start)))
		if err := w.WriteUpload(ctx, &output.UploadRecord{Source: path, UploadResult: *result}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Upload incomplete",
			fmt.Errorf("%d of %d uploads failed", failed, len(args)))
	}
	return nil
}

// detectContentType prefers the extension and falls back to sniffing.
func detectContentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
