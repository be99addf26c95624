package sync_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/metrics"
	"github.com/renderinc/pagekeeper/internal/search"
	"github.com/renderinc/pagekeeper/internal/storage"
	pagesync "github.com/renderinc/pagekeeper/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir   string
	db    *storage.DB
	index *search.Index
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := search.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return &fixture{dir: t.TempDir(), db: db, index: idx}
}

func (f *fixture) write(t *testing.T, name, body string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestSync_NewSkippedUpdated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.write(t, "deploy.yaml", "title: Deploy guide\ncontent: ship it with docker\n")
	f.write(t, "team/oncall.yml", "slug: on-call\ntitle: On-call\ncontent: pager rotation\n")
	f.write(t, "README.md", "ignored")

	m := metrics.New()
	worker := pagesync.NewWorker(f.db, f.index, logger.NewNop(), pagesync.WithMetrics(m), pagesync.WithConcurrency(2))

	stats, err := worker.Sync(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPages)
	assert.Equal(t, 2, stats.NewPages)
	assert.Zero(t, stats.Errors)

	page, err := f.db.GetPageBySlug(ctx, "deploy")
	require.NoError(t, err, "slug defaults to the file name")
	assert.Equal(t, "Deploy guide", page.Title)
	_, err = f.db.GetPageBySlug(ctx, "on-call")
	require.NoError(t, err)

	hits, err := f.index.Search(ctx, search.Query{Text: "docker"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, search.DocumentID(page.ID), hits[0].ID)

	stats, err = worker.Sync(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SkippedPages)
	assert.Zero(t, stats.NewPages+stats.UpdatedPages)

	f.write(t, "deploy.yaml", "title: Deploy guide\ncontent: ship it with kubernetes\n")
	stats, err = worker.Sync(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UpdatedPages)
	assert.Equal(t, 1, stats.SkippedPages)

	hits, err = f.index.Search(ctx, search.Query{Text: "kubernetes"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	hits, err = f.index.Search(ctx, search.Query{Text: "docker"})
	require.NoError(t, err)
	assert.Empty(t, hits, "reindexed document replaces the old one")

	assert.InDelta(t, 2, testutil.ToFloat64(m.SyncPages.WithLabelValues("new")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SyncPages.WithLabelValues("updated")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.SyncPages.WithLabelValues("skipped")), 0)
}

func TestSync_BadFilesCountAsErrors(t *testing.T) {
	f := setup(t)
	f.write(t, "a.yaml", "title: Good\ncontent: fine\n")
	f.write(t, "b.yaml", "title: [unclosed\n")
	f.write(t, "c.yaml", "content: no title\n")
	f.write(t, "d.yaml", "slug: a\ntitle: Duplicate\n")
	f.write(t, "e.yaml", "slug: has space\ntitle: Bad slug\n")

	stats, err := pagesync.NewWorker(f.db, f.index, logger.NewNop()).Sync(context.Background(), f.dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPages)
	assert.Equal(t, 1, stats.NewPages)
	assert.Equal(t, 4, stats.Errors)
}

func TestSync_MaxPages(t *testing.T) {
	f := setup(t)
	for _, name := range []string{"a", "b", "c"} {
		f.write(t, name+".yaml", "title: "+name+"\n")
	}

	stats, err := pagesync.NewWorker(f.db, f.index, logger.NewNop(), pagesync.WithMaxPages(2)).
		Sync(context.Background(), f.dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalPages)

	count, err := f.db.CountPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSync_MissingDir(t *testing.T) {
	f := setup(t)
	_, err := pagesync.NewWorker(f.db, f.index, logger.NewNop()).
		Sync(context.Background(), filepath.Join(f.dir, "nope"))
	require.Error(t, err)
}

type brokenEngine struct {
	search.Engine
}

func (brokenEngine) Index(context.Context, search.Document) error {
	return errors.New("index unavailable")
}

func TestSync_IndexFailureIsCounted(t *testing.T) {
	f := setup(t)
	f.write(t, "a.yaml", "title: A\n")

	stats, err := pagesync.NewWorker(f.db, brokenEngine{}, logger.NewNop()).Sync(context.Background(), f.dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, stats.NewPages)
}

func TestSync_CancelledContext(t *testing.T) {
	f := setup(t)
	f.write(t, "a.yaml", "title: A\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pagesync.NewWorker(f.db, f.index, logger.NewNop()).Sync(ctx, f.dir)
	assert.ErrorIs(t, err, context.Canceled)
}
