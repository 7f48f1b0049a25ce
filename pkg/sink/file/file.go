// Package file implements sink.Sink on a local directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/sink"
)

// Sink writes objects as files under a base directory. Keys are relative
// slash-separated paths.
type Sink struct {
	baseDir string
}

var _ sink.Sink = (*Sink)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *Sink) Close() error { return nil }

func (s *Sink) URI(key string) string {
	full, err := s.fullPath(key)
	if err != nil {
		return "file://" + s.baseDir + "/" + key
	}
	return "file://" + filepath.ToSlash(full)
}

func (s *Sink) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return false, s.wrapError("Exists", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, s.wrapError("Exists", key, err)
	}
	return !st.IsDir(), nil
}

// Put writes through a temporary file and renames it into place, so a
// partially written photo never appears under its final name.
func (s *Sink) Put(_ context.Context, key string, data []byte, _ string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".cloudphotos-put-*")
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

var errInvalidKey = errors.New("invalid key path")

func (s *Sink) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errInvalidKey
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Sink) wrapError(op, key string, err error) error {
	wrapped := &sink.Error{Op: op, Sink: sink.TypeFile, Key: key, Err: err}
	switch {
	case errors.Is(err, errInvalidKey):
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrInvalidRequest, err)
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
