package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tableqa/internal/errs"
)

// ObjectGetter fetches objects from an S3-compatible store.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Report describes what Sync did for one table.
type Report struct {
	Table   string
	Path    string
	Bytes   int64
	Skipped bool
	// Rows is the parquet row count, -1 when unknown.
	Rows int64
}

// SyncOption configures a Syncer.
type SyncOption func(*Syncer)

func WithHTTPClient(c *http.Client) SyncOption {
	return func(s *Syncer) { s.http = c }
}

func WithObjectStore(o ObjectGetter) SyncOption {
	return func(s *Syncer) { s.objects = o }
}

// WithConcurrency bounds parallel downloads.
func WithConcurrency(n int) SyncOption {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithSyncLogger(logger *slog.Logger) SyncOption {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProgress is called once per finished table, possibly concurrently.
func WithProgress(fn func(Report)) SyncOption {
	return func(s *Syncer) { s.progress = fn }
}

// Syncer downloads remote table sources into the data directory.
type Syncer struct {
	dataDir     string
	http        *http.Client
	objects     ObjectGetter
	concurrency int
	logger      *slog.Logger
	progress    func(Report)
}

func NewSyncer(dataDir string, opts ...SyncOption) *Syncer {
	s := &Syncer{
		dataDir:     dataDir,
		http:        &http.Client{Timeout: 30 * time.Minute},
		concurrency: 4,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Missing lists remote tables whose local copy does not exist yet.
func (s *Syncer) Missing(c *Catalog) []Table {
	var out []Table
	for _, t := range c.Tables {
		if !t.Remote() {
			continue
		}
		if _, err := os.Stat(c.LocalPath(t, s.dataDir)); os.IsNotExist(err) {
			out = append(out, t)
		}
	}
	return out
}

// Sync fetches every remote table. Existing files are kept unless force is
// set. Reports come back in catalog order.
func (s *Syncer) Sync(ctx context.Context, c *Catalog, force bool) ([]Report, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	reports := make([]Report, len(c.Tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, t := range c.Tables {
		if !t.Remote() {
			reports[i] = Report{Table: t.Name, Path: c.LocalPath(t, s.dataDir), Skipped: true, Rows: -1}
			continue
		}
		g.Go(func() error {
			rep, err := s.syncTable(gctx, c, t, force)
			if err != nil {
				return fmt.Errorf("sync %s: %w", t.Name, err)
			}
			reports[i] = rep
			if s.progress != nil {
				s.progress(rep)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *Syncer) syncTable(ctx context.Context, c *Catalog, t Table, force bool) (Report, error) {
	dest := c.LocalPath(t, s.dataDir)
	rep := Report{Table: t.Name, Path: dest, Rows: -1}

	if st, err := os.Stat(dest); err == nil && !force {
		rep.Skipped = true
		rep.Bytes = st.Size()
		s.annotate(&rep, t)
		return rep, nil
	}

	body, err := s.open(ctx, t.Source)
	if err != nil {
		return rep, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return rep, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return rep, fmt.Errorf("download %s: %w", t.Source, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return rep, err
	}

	rep.Bytes = n
	s.annotate(&rep, t)
	s.logger.Info("Table source downloaded", "table", t.Name, "path", dest, "bytes", n, "rows", rep.Rows)
	return rep, nil
}

func (s *Syncer) annotate(rep *Report, t Table) {
	if t.Format != FormatParquet {
		return
	}
	info, err := Inspect(rep.Path)
	if err != nil {
		s.logger.Warn("Could not read parquet footer", "table", t.Name, "error", err)
		return
	}
	rep.Rows = info.Rows
}

func (s *Syncer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if bucket, key, ok := splitS3(source); ok {
		if s.objects == nil {
			return nil, errs.New(errs.Config, "sync", "s3 source "+source+" needs object store settings")
		}
		return s.objects.GetObject(ctx, bucket, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "sync", "GET "+source, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		kind := errs.Transport
		if resp.StatusCode == http.StatusNotFound {
			kind = errs.NotFound
		}
		return nil, errs.New(kind, "sync", fmt.Sprintf("GET %s: bad status: %s", source, resp.Status))
	}
	return resp.Body, nil
}

func splitS3(source string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(source, "s3://") {
		return "", "", false
	}
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}
