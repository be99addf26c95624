// Package sync loads pages from a directory of YAML files into the content
// store and the search engine.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/metrics"
	"github.com/renderinc/pagekeeper/internal/search"
	"github.com/renderinc/pagekeeper/internal/storage"
)

const defaultConcurrency = 5

// PageStore is the part of the content store sync writes to.
type PageStore interface {
	GetContentHash(ctx context.Context, slug string) (string, error)
	UpsertPage(ctx context.Context, p *storage.Page) error
}

// PageFile is the on-disk form of a page.
type PageFile struct {
	Slug    string `yaml:"slug"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Worker handles syncing pages from a content directory
type Worker struct {
	store       PageStore
	engine      search.Engine
	logger      logger.Logger
	metrics     *metrics.Metrics
	maxPages    int // 0 = unlimited
	concurrency int
}

// Option configures a Worker.
type Option func(*Worker)

// WithMaxPages stops after n pages.
func WithMaxPages(n int) Option {
	return func(w *Worker) { w.maxPages = n }
}

// WithConcurrency sets how many pages are synced at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMetrics records page counts after every run.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a new sync worker
func NewWorker(store PageStore, engine search.Engine, log logger.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:       store,
		engine:      engine,
		logger:      log,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats holds sync statistics
type Stats struct {
	TotalPages   int
	NewPages     int
	UpdatedPages int
	SkippedPages int
	Errors       int
	Duration     time.Duration
}

type pageSource struct {
	path string
	page PageFile
}

// Sync performs a full sync of the page files under dir
func (w *Worker) Sync(ctx context.Context, dir string) (*Stats, error) {
	startTime := time.Now()
	stats := &Stats{}

	w.logger.Info("Starting sync", logger.String("dir", dir))

	paths, err := pageFiles(dir)
	if err != nil {
		return nil, err
	}

	sources := make([]pageSource, 0, len(paths))
	seen := make(map[string]string)
	for _, path := range paths {
		if w.maxPages > 0 && len(sources) >= w.maxPages {
			w.logger.Info("Reached page limit", logger.Int("max_pages", w.maxPages))
			break
		}

		page, err := readPageFile(path)
		if err != nil {
			w.logger.Warn("Skipping unreadable page file", logger.String("path", path), logger.Error(err))
			stats.Errors++
			continue
		}
		if first, dup := seen[page.Slug]; dup {
			w.logger.Warn("Duplicate slug",
				logger.String("slug", page.Slug),
				logger.String("path", path),
				logger.String("first", first),
			)
			stats.Errors++
			continue
		}
		seen[page.Slug] = path
		sources = append(sources, pageSource{path: path, page: page})
	}

	stats.TotalPages = len(sources)
	w.logger.Info("Syncing pages", logger.Int("total", stats.TotalPages))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := w.syncPage(gctx, src.page, stats, &mu); err != nil {
				w.logger.Error("Error syncing page",
					logger.String("slug", src.page.Slug),
					logger.String("path", src.path),
					logger.Error(err),
				)
				mu.Lock()
				stats.Errors++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(startTime)
	w.logger.Info("Sync complete",
		logger.Int("new", stats.NewPages),
		logger.Int("updated", stats.UpdatedPages),
		logger.Int("skipped", stats.SkippedPages),
		logger.Int("errors", stats.Errors),
		logger.Duration("duration", stats.Duration),
	)
	if w.metrics != nil {
		w.metrics.ObserveSync(stats.NewPages, stats.UpdatedPages, stats.SkippedPages, stats.Errors)
	}

	return stats, nil
}

// syncPage stores and indexes one page unless its hash is unchanged.
func (w *Worker) syncPage(ctx context.Context, pf PageFile, stats *Stats, mu *sync.Mutex) error {
	contentHash := storage.Hash(pf.Title, pf.Content)

	existingHash, err := w.store.GetContentHash(ctx, pf.Slug)
	if err != nil {
		return fmt.Errorf("get content hash: %w", err)
	}

	if existingHash == contentHash {
		mu.Lock()
		stats.SkippedPages++
		mu.Unlock()
		return nil
	}

	page := &storage.Page{
		Slug:        pf.Slug,
		Title:       pf.Title,
		Content:     pf.Content,
		ContentHash: contentHash,
	}
	if err := w.store.UpsertPage(ctx, page); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}

	if err := w.engine.Index(ctx, search.PageDocument(page)); err != nil {
		return fmt.Errorf("index page: %w", err)
	}

	mu.Lock()
	if existingHash == "" {
		stats.NewPages++
	} else {
		stats.UpdatedPages++
	}
	mu.Unlock()

	w.logger.Debug("Synced page", logger.String("slug", page.Slug), logger.Int64("id", page.ID))
	return nil
}

// pageFiles lists *.yaml and *.yml files below dir in lexical order.
func pageFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

var errMissingTitle = errors.New("title is required")

// readPageFile parses one page. A missing slug defaults to the file name
// without its extension.
func readPageFile(path string) (PageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PageFile{}, err
	}

	var pf PageFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return PageFile{}, fmt.Errorf("parse: %w", err)
	}

	pf.Slug = strings.TrimSpace(pf.Slug)
	if pf.Slug == "" {
		base := filepath.Base(path)
		pf.Slug = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if strings.ContainsAny(pf.Slug, "/ ") {
		return PageFile{}, fmt.Errorf("invalid slug %q", pf.Slug)
	}
	pf.Title = strings.TrimSpace(pf.Title)
	if pf.Title == "" {
		return PageFile{}, errMissingTitle
	}
	return pf, nil
}
