package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/renderinc/pagekeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *storage.DB, pages ...*storage.Page) {
	t.Helper()
	for _, p := range pages {
		require.NoError(t, db.UpsertPage(context.Background(), p))
	}
}

func TestUpsertPage_InsertThenUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := &storage.Page{Slug: "welcome", Title: "Welcome", Content: "Hello there"}
	require.NoError(t, db.UpsertPage(ctx, p))
	require.NotZero(t, p.ID)
	assert.Equal(t, storage.Hash("Welcome", "Hello there"), p.ContentHash)

	updated := &storage.Page{Slug: "welcome", Title: "Welcome back", Content: "Hello again"}
	require.NoError(t, db.UpsertPage(ctx, updated))
	assert.Equal(t, p.ID, updated.ID, "upsert keyed by slug keeps the row")

	got, err := db.GetPageBySlug(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome back", got.Title)
	assert.Equal(t, "Hello again", got.Content)
	assert.Equal(t, "/pages/welcome/", got.AbsoluteURL())

	count, err := db.CountPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetPage_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetPage(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.GetPageBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetPages(t *testing.T) {
	db := openTestDB(t)
	a := &storage.Page{Slug: "a", Title: "A", Content: "a"}
	b := &storage.Page{Slug: "b", Title: "B", Content: "b"}
	seed(t, db, a, b)

	pages, err := db.GetPages(context.Background(), []int64{a.ID, b.ID, 9999})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, "A", pages[a.ID].Title)
	assert.Equal(t, "B", pages[b.ID].Title)

	empty, err := db.GetPages(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSubstringSearch(t *testing.T) {
	db := openTestDB(t)
	seed(t, db,
		&storage.Page{Slug: "go", Title: "Getting Started with Go", Content: "Install the toolchain."},
		&storage.Page{Slug: "ops", Title: "Operations", Content: "Restart the service with care."},
		&storage.Page{Slug: "pct", Title: "Discounts", Content: "Save 100% today"},
		&storage.Page{Slug: "uni", Title: "ÉCOLE notes", Content: "Über alles"},
	)
	ctx := context.Background()

	t.Run("title ignores case", func(t *testing.T) {
		pages, err := db.TitleContains(ctx, "STARTED")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, "go", pages[0].Slug)
	})

	t.Run("content ignores case", func(t *testing.T) {
		pages, err := db.ContentContains(ctx, "restart")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, "ops", pages[0].Slug)
	})

	t.Run("wildcards are literal", func(t *testing.T) {
		pages, err := db.ContentContains(ctx, "0% t")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, "pct", pages[0].Slug)

		pages, err = db.TitleContains(ctx, "%")
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("non-ascii folds", func(t *testing.T) {
		pages, err := db.TitleContains(ctx, "école")
		require.NoError(t, err)
		require.Len(t, pages, 1)

		pages, err = db.ContentContains(ctx, "über")
		require.NoError(t, err)
		require.Len(t, pages, 1)
	})

	t.Run("no match", func(t *testing.T) {
		pages, err := db.TitleContains(ctx, "kubernetes")
		require.NoError(t, err)
		assert.Empty(t, pages)
	})
}

func TestGetContentHash(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	hash, err := db.GetContentHash(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, hash)

	seed(t, db, &storage.Page{Slug: "x", Title: "X", Content: "body"})
	hash, err = db.GetContentHash(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, storage.Hash("X", "body"), hash)
}

func TestLogs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := &storage.LogEntry{Datetime: time.Now().Add(-48 * time.Hour), Level: "info", Message: "old"}
	fresh := &storage.LogEntry{Level: "info", Message: "fresh", Actor: "admin"}
	require.NoError(t, db.InsertLog(ctx, old))
	require.NoError(t, db.InsertLog(ctx, fresh))
	assert.NotZero(t, fresh.ID)

	entries, err := db.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fresh", entries[0].Message)
	assert.True(t, entries[0].Recent())
	assert.False(t, entries[1].Recent())

	limited, err := db.ListLogs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSubstringSearch_QueryErrorPropagates(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := storage.New(sqlx.NewDb(mockDB, "sqlmock"))
	mock.ExpectQuery("SELECT (.+) FROM pages WHERE instr").
		WithArgs("disk").
		WillReturnError(errors.New("database is locked"))

	_, err = db.TitleContains(context.Background(), "disk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title substring search")
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPage_ErrorWrapsSlug(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := storage.New(sqlx.NewDb(mockDB, "sqlmock"))
	mock.ExpectQuery("INSERT INTO pages").WillReturnError(errors.New("constraint failed"))

	err = db.UpsertPage(context.Background(), &storage.Page{Slug: "broken", Title: "t", Content: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert page broken")
	assert.NoError(t, mock.ExpectationsWereMet())
}
