package amazonphotos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// uploadLogLimit caps how much of a response body is logged.
const uploadLogLimit = 500

// Upload creates a new file node from data in a single multipart POST.
//
// A 409 Conflict means upstream already holds the file; it is reported as
// a successful, duplicate result rather than an error.
func (p *Provider) Upload(ctx context.Context, data []byte, filename, contentType string) (*provider.UploadResult, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, &provider.ProviderError{Op: "Upload", Provider: provider.ProviderAmazonPhotos,
			Err: fmt.Errorf("%w: filename is required", provider.ErrInvalidRequest)}
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	body, formType, err := buildUploadBody(data, filename, contentType)
	if err != nil {
		return nil, &provider.ProviderError{Op: "Upload", Provider: provider.ProviderAmazonPhotos, Err: err}
	}

	eps := p.Endpoints(ctx)
	target := eps.ContentURL + "/nodes?suppress=deduplication"
	p.log.Info("Uploading photo",
		zap.String("url", target),
		zap.String("filename", filename),
		zap.Int("bytes", len(data)))

	resp, err := p.do(ctx, "upload", http.MethodPost, target, bytes.NewReader(body.Bytes()),
		http.Header{"Content-Type": []string{formType}}, p.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	text := string(resp.body)
	p.log.Debug("Upload response",
		zap.Int("status", resp.status),
		zap.String("body", truncate(text, uploadLogLimit)))

	if resp.status == http.StatusConflict {
		return &provider.UploadResult{
			Success:   true,
			Name:      filename,
			Duplicate: true,
			Message:   "photo already exists",
		}, nil
	}
	if !resp.ok() {
		return nil, &UploadError{StatusCode: resp.status, Body: text}
	}

	// The status already says the upload worked; a body we cannot parse
	// only costs us the node id.
	node := map[string]any{}
	if err := json.Unmarshal(resp.body, &node); err != nil || node == nil {
		node = map[string]any{}
	}

	result := &provider.UploadResult{
		Success: true,
		Name:    filename,
		Node:    node,
	}
	if id, ok := node["id"].(string); ok {
		result.NodeID = id
	}
	return result, nil
}

// buildUploadBody writes the metadata and content parts.
func buildUploadBody(data []byte, filename, contentType string) (*bytes.Buffer, string, error) {
	meta, err := json.Marshal(struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}{Name: filename, Kind: string(provider.KindFile)})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaPart, err := mw.CreatePart(partHeader("metadata", "metadata.json", "application/json", len(meta)))
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(meta); err != nil {
		return nil, "", err
	}

	contentPart, err := mw.CreatePart(partHeader("content", filename, contentType, len(data)))
	if err != nil {
		return nil, "", err
	}
	if _, err := contentPart.Write(data); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func partHeader(field, filename, contentType string, length int) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(length))
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
