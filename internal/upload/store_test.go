package upload_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/storage"
	"github.com/renderinc/pagekeeper/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	entries []*storage.LogEntry
	err     error
}

func (m *memorySink) InsertLog(_ context.Context, e *storage.LogEntry) error {
	if m.err != nil {
		return m.err
	}
	if e.Datetime.IsZero() {
		e.Datetime = time.Now()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) ListLogs(_ context.Context, limit int) ([]*storage.LogEntry, error) {
	out := make([]*storage.LogEntry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func newStore(t *testing.T, collision upload.Collision) (*upload.Store, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	return upload.NewStore(t.TempDir(), collision, sink, logger.NewNop()), sink
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCategories(t *testing.T) {
	cats := upload.Categories()
	require.Len(t, cats, 4)
	assert.Equal(t, upload.Category{Label: "Image", Directory: "images"}, cats[0])

	cats[0].Label = "changed"
	assert.Equal(t, "Image", upload.Categories()[0].Label, "callers get a copy")

	c, err := upload.Lookup("audio")
	require.NoError(t, err)
	assert.Equal(t, "Audio", c.Label)

	_, err = upload.Lookup("Audio")
	assert.ErrorIs(t, err, upload.ErrUnknownCategory)
}

func TestEnsureDirs(t *testing.T) {
	store, _ := newStore(t, upload.CollisionRename)
	require.NoError(t, store.EnsureDirs())
	require.NoError(t, store.EnsureDirs(), "idempotent")

	for _, c := range upload.Categories() {
		assert.DirExists(t, filepath.Join(store.Root(), c.Directory))
	}
}

func TestSave_AppearsInListing(t *testing.T) {
	store, sink := newStore(t, upload.CollisionRename)
	ctx := upload.WithActor(context.Background(), "admin")

	rec, err := store.Save(ctx, "documents", "report.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, "Document", rec.Type)
	assert.Equal(t, "report.pdf", rec.Filename)
	assert.EqualValues(t, 9, rec.Size)
	assert.Equal(t, "pdf bytes", readFile(t, filepath.Join(store.Root(), "documents", "report.pdf")))

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Document", records[0].Type)
	assert.Equal(t, "documents", records[0].Directory)
	assert.Equal(t, "report.pdf", records[0].Filename)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "admin", sink.entries[0].Actor)
	assert.Contains(t, sink.entries[0].Message, "documents/report.pdf")
}

func TestSave_LargeFileSpansChunks(t *testing.T) {
	store, _ := newStore(t, upload.CollisionRename)
	body := strings.Repeat("0123456789abcdef", 10_000)

	rec, err := store.Save(context.Background(), "video", "clip.mp4", strings.NewReader(body))
	require.NoError(t, err)
	assert.EqualValues(t, len(body), rec.Size)
	assert.Equal(t, body, readFile(t, filepath.Join(store.Root(), "video", "clip.mp4")))
}

func TestSave_RejectsBadInput(t *testing.T) {
	store, sink := newStore(t, upload.CollisionRename)
	ctx := context.Background()

	_, err := store.Save(ctx, "secrets", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, upload.ErrUnknownCategory)

	for _, name := range []string{"", ".", "..", ".htaccess", "../.env"} {
		_, err := store.Save(ctx, "documents", name, strings.NewReader("x"))
		assert.ErrorIs(t, err, upload.ErrInvalidFilename, "name %q", name)
	}
	assert.Empty(t, sink.entries)
}

func TestSave_StripsDirectories(t *testing.T) {
	store, _ := newStore(t, upload.CollisionRename)
	ctx := context.Background()

	rec, err := store.Save(ctx, "images", "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd", rec.Filename)
	assert.FileExists(t, filepath.Join(store.Root(), "images", "passwd"))

	rec, err = store.Save(ctx, "images", `C:\Users\me\photo.png`, strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "photo.png", rec.Filename)
}

func TestSave_CollisionPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("rename keeps both", func(t *testing.T) {
		store, _ := newStore(t, upload.CollisionRename)
		_, err := store.Save(ctx, "audio", "song.mp3", strings.NewReader("first"))
		require.NoError(t, err)
		rec, err := store.Save(ctx, "audio", "song.mp3", strings.NewReader("second"))
		require.NoError(t, err)

		assert.Regexp(t, `^song-[0-9a-f]{8}\.mp3$`, rec.Filename)
		assert.Equal(t, "first", readFile(t, filepath.Join(store.Root(), "audio", "song.mp3")))
		assert.Equal(t, "second", readFile(t, filepath.Join(store.Root(), "audio", rec.Filename)))
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		store, _ := newStore(t, upload.CollisionOverwrite)
		_, err := store.Save(ctx, "audio", "song.mp3", strings.NewReader("first"))
		require.NoError(t, err)
		_, err = store.Save(ctx, "audio", "song.mp3", strings.NewReader("second"))
		require.NoError(t, err)

		assert.Equal(t, "second", readFile(t, filepath.Join(store.Root(), "audio", "song.mp3")))
		records, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("reject refuses", func(t *testing.T) {
		store, _ := newStore(t, upload.CollisionReject)
		_, err := store.Save(ctx, "audio", "song.mp3", strings.NewReader("first"))
		require.NoError(t, err)
		_, err = store.Save(ctx, "audio", "song.mp3", strings.NewReader("second"))
		assert.ErrorIs(t, err, upload.ErrExists)
		assert.Equal(t, "first", readFile(t, filepath.Join(store.Root(), "audio", "song.mp3")))
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSave_FailedCopyLeavesNothing(t *testing.T) {
	store, sink := newStore(t, upload.CollisionRename)

	_, err := store.Save(context.Background(), "documents", "broken.bin", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(store.Root(), "documents"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed")
	assert.Empty(t, sink.entries)
}

func TestSave_LogFailureDoesNotFailUpload(t *testing.T) {
	store, sink := newStore(t, upload.CollisionRename)
	sink.err = errors.New("db locked")

	_, err := store.Save(context.Background(), "documents", "ok.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(store.Root(), "documents", "ok.txt"))
}

func TestList(t *testing.T) {
	store, _ := newStore(t, upload.CollisionRename)
	ctx := context.Background()

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "missing directories list as empty")

	imagesDir := filepath.Join(store.Root(), "images")
	require.NoError(t, os.MkdirAll(filepath.Join(imagesDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "b.png"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "a.png"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, ".upload-123"), []byte("partial"), 0o644))

	records, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2, "directories and temp files are skipped")
	assert.Equal(t, "a.png", records[0].Filename)
	assert.Equal(t, "b.png", records[1].Filename)

	grouped := upload.Grouped(records)
	assert.Len(t, grouped, 4)
	assert.Len(t, grouped["images"], 2)
	assert.Empty(t, grouped["video"])
}

func TestRecentLogs(t *testing.T) {
	store, sink := newStore(t, upload.CollisionRename)
	sink.entries = []*storage.LogEntry{
		{Message: "old", Datetime: time.Now().Add(-48 * time.Hour)},
		{Message: "fresh", Datetime: time.Now().Add(-time.Hour)},
	}

	recent, err := store.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Message)

	var nilSink upload.LogSink
	empty := upload.NewStore(t.TempDir(), "", nilSink, logger.NewNop())
	recent, err = empty.RecentLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
