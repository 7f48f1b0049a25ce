// Package mirror copies a user's photo library into a sink.
//
// A run pages through the catalog until the upstream reports no more
// results, drops folders and photos rejected by the name matcher or the
// metadata filter, skips keys that already exist in the sink and copies the
// rest with bounded concurrency. Per-photo failures are written as error
// records and never stop the run; only a failed catalog page does.
package mirror

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/cloudphotos/pkg/match"
	"github.com/3leaps/cloudphotos/pkg/output"
	"github.com/3leaps/cloudphotos/pkg/provider"
	"github.com/3leaps/cloudphotos/pkg/sink"
)

// Config controls a mirror run.
type Config struct {
	// Concurrency is the number of parallel photo copies.
	Concurrency int

	// PageSize is the catalog page size passed to Search.
	PageSize int

	// Query and Sort are passed through to Search.
	Query string
	Sort  string

	// Prefix is prepended to every rendered key.
	Prefix string

	// KeyTemplate renders the key below Prefix. See KeyTemplate.
	KeyTemplate string

	// Overwrite copies photos even if the key already exists.
	Overwrite bool

	// DryRun lists and filters but never downloads or writes.
	DryRun bool

	// ProgressEvery emits a progress record every N catalog pages.
	// Zero disables progress records.
	ProgressEvery int
}

// DefaultConfig returns the defaults used for zero-valued fields.
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		PageSize:      200,
		KeyTemplate:   DefaultKeyTemplate,
		ProgressEvery: 10,
	}
}

// Summary holds aggregate counts for a run.
type Summary struct {
	Pages       int
	Seen        int64
	Transferred int64
	Skipped     int64
	Errors      int64
	Bytes       int64
	Duration    time.Duration
}

// Mirror copies photos from a PhotoService into a Sink.
type Mirror struct {
	src     provider.PhotoService
	dst     sink.Sink
	matcher *match.Matcher
	filter  match.Filter
	writer  output.Writer
	keys    *KeyTemplate
	cfg     Config
	logger  *zap.Logger

	pages       atomic.Int64
	seen        atomic.Int64
	transferred atomic.Int64
	skipped     atomic.Int64
	errors      atomic.Int64
	bytes       atomic.Int64
}

// Option customizes a Mirror.
type Option func(*Mirror)

// WithMatcher restricts the run to photos whose name matches m.
func WithMatcher(m *match.Matcher) Option {
	return func(mr *Mirror) { mr.matcher = m }
}

// WithFilter restricts the run to photos accepted by f.
func WithFilter(f match.Filter) Option {
	return func(mr *Mirror) { mr.filter = f }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(mr *Mirror) {
		if l != nil {
			mr.logger = l
		}
	}
}

// New builds a Mirror. The key template is validated here.
func New(src provider.PhotoService, dst sink.Sink, writer output.Writer, cfg Config, opts ...Option) (*Mirror, error) {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.KeyTemplate == "" {
		cfg.KeyTemplate = def.KeyTemplate
	}
	if cfg.ProgressEvery < 0 {
		cfg.ProgressEvery = 0
	}

	keys, err := CompileKeyTemplate(cfg.KeyTemplate)
	if err != nil {
		return nil, err
	}

	m := &Mirror{src: src, dst: dst, writer: writer, keys: keys, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run executes the mirror and writes a summary record when it finishes.
// The returned error is non-nil only when listing failed or ctx ended.
func (m *Mirror) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	m.progress(ctx, output.PhaseStarting)

	workCh := make(chan *provider.Photo, m.cfg.Concurrency*2)
	errCh := make(chan error, 1)

	// Listing stage: pages are sequential because each offset depends on
	// the previous page.
	go func() {
		defer close(workCh)
		if err := m.list(ctx, workCh); err != nil {
			errCh <- err
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range workCh {
				if err := m.copyOne(ctx, p); err != nil {
					m.recordError(ctx, p, err)
				}
			}
		}()
	}
	wg.Wait()

	var runErr error
	select {
	case runErr = <-errCh:
	default:
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	m.progress(ctx, output.PhaseComplete)
	sum := m.summary(time.Since(start))
	// The summary is written even when ctx was cancelled.
	_ = m.writer.WriteSummary(context.WithoutCancel(ctx), &output.SummaryRecord{
		Pages:         sum.Pages,
		Seen:          sum.Seen,
		Transferred:   sum.Transferred,
		Skipped:       sum.Skipped,
		Errors:        sum.Errors,
		Bytes:         sum.Bytes,
		Duration:      sum.Duration,
		DurationHuman: sum.Duration.Round(time.Millisecond).String(),
		DryRun:        m.cfg.DryRun,
	})
	return sum, runErr
}

func (m *Mirror) list(ctx context.Context, out chan<- *provider.Photo) error {
	offset := 0
	for {
		page, err := m.src.Search(ctx, provider.SearchOptions{
			Query:  m.cfg.Query,
			Sort:   m.cfg.Sort,
			Offset: offset,
			Limit:  m.cfg.PageSize,
		})
		if err != nil {
			return err
		}
		pages := m.pages.Add(1)
		m.logger.Debug("catalog page",
			zap.Int("offset", offset),
			zap.Int("returned", len(page.Photos)),
			zap.Bool("has_more", page.HasMore))

		for i := range page.Photos {
			p := &page.Photos[i]
			m.seen.Add(1)
			if !m.accept(ctx, p) {
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if m.cfg.ProgressEvery > 0 && pages%int64(m.cfg.ProgressEvery) == 0 {
			m.progress(ctx, output.PhaseListing)
		}
		if !page.HasMore || len(page.Photos) == 0 {
			return nil
		}
		offset += len(page.Photos)
	}
}

// accept applies the folder, name and metadata checks, recording a skip
// for anything rejected.
func (m *Mirror) accept(ctx context.Context, p *provider.Photo) bool {
	switch {
	case p.Kind == provider.KindFolder:
		m.skip(ctx, p, output.SkipFolder, "")
		return false
	case m.matcher != nil && !m.matcher.Match(p.Name):
		m.skip(ctx, p, output.SkipFiltered, "")
		return false
	case m.filter != nil && !m.filter.Match(p):
		m.skip(ctx, p, output.SkipFiltered, "")
		return false
	}
	return true
}

func (m *Mirror) copyOne(ctx context.Context, p *provider.Photo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rel, err := m.keys.Apply(p)
	if err != nil {
		return &provider.ProviderError{Op: "Mirror", Provider: provider.ProviderAmazonPhotos, NodeID: p.ID, Err: errors.Join(provider.ErrInvalidRequest, err)}
	}
	key := m.cfg.Prefix + rel
	dest := m.dst.URI(key)

	if !m.cfg.Overwrite {
		exists, err := m.dst.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			m.skip(ctx, p, output.SkipExists, dest)
			return nil
		}
	}

	if m.cfg.DryRun {
		m.skip(ctx, p, output.SkipDryRun, dest)
		return nil
	}

	start := time.Now()
	img, err := m.src.FetchFull(ctx, p.ID)
	if err != nil {
		return err
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = p.ContentType
	}
	if err := m.dst.Put(ctx, key, img.Data, contentType); err != nil {
		return err
	}

	size := int64(len(img.Data))
	m.transferred.Add(1)
	m.bytes.Add(size)
	return m.writer.WriteTransfer(ctx, &output.TransferRecord{
		NodeID:      p.ID,
		Name:        p.Name,
		Destination: dest,
		Bytes:       size,
		ContentType: contentType,
		DurationMS:  time.Since(start).Milliseconds(),
	})
}

func (m *Mirror) skip(ctx context.Context, p *provider.Photo, reason, dest string) {
	m.skipped.Add(1)
	_ = m.writer.WriteSkip(ctx, &output.SkipRecord{NodeID: p.ID, Name: p.Name, Reason: reason, Destination: dest})
}

func (m *Mirror) recordError(ctx context.Context, p *provider.Photo, err error) {
	m.errors.Add(1)
	m.logger.Warn("mirror photo failed", zap.String("node_id", p.ID), zap.Error(err))
	if ctx.Err() != nil {
		return
	}
	_ = m.writer.WriteError(ctx, &output.ErrorRecord{
		Code:    classifyErrCode(err),
		Message: err.Error(),
		NodeID:  p.ID,
	})
}

func (m *Mirror) progress(ctx context.Context, phase string) {
	if m.cfg.ProgressEvery == 0 {
		return
	}
	_ = m.writer.WriteProgress(context.WithoutCancel(ctx), &output.ProgressRecord{
		Phase:       phase,
		Pages:       int(m.pages.Load()),
		Seen:        m.seen.Load(),
		Transferred: m.transferred.Load(),
		Skipped:     m.skipped.Load(),
		Errors:      m.errors.Load(),
		Bytes:       m.bytes.Load(),
	})
}

func (m *Mirror) summary(d time.Duration) *Summary {
	return &Summary{
		Pages:       int(m.pages.Load()),
		Seen:        m.seen.Load(),
		Transferred: m.transferred.Load(),
		Skipped:     m.skipped.Load(),
		Errors:      m.errors.Load(),
		Bytes:       m.bytes.Load(),
		Duration:    d,
	}
}

func classifyErrCode(err error) string {
	var serr *sink.Error
	if errors.As(err, &serr) {
		return output.ErrCodeSinkFailed
	}
	return output.ErrorCode(err)
}
