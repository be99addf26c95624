package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/storage"
)

// Collision decides what happens when the target filename is taken.
type Collision string

const (
	CollisionRename    Collision = "rename"
	CollisionOverwrite Collision = "overwrite"
	CollisionReject    Collision = "reject"
)

const copyChunk = 32 << 10

// Record is one stored file as seen in a directory listing.
type Record struct {
	Type      string
	Directory string
	Filename  string
	Size      int64
	ModTime   time.Time
}

// LogSink records upload activity.
type LogSink interface {
	InsertLog(ctx context.Context, e *storage.LogEntry) error
	ListLogs(ctx context.Context, limit int) ([]*storage.LogEntry, error)
}

type actorKey struct{}

// WithActor tags ctx with the user performing an upload.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Store writes uploads below root, one directory per category.
type Store struct {
	root      string
	collision Collision
	sink      LogSink
	logger    logger.Logger
}

// NewStore returns a Store. sink may be nil.
func NewStore(root string, collision Collision, sink LogSink, log logger.Logger) *Store {
	if collision == "" {
		collision = CollisionRename
	}
	return &Store{root: root, collision: collision, sink: sink, logger: log}
}

// Root is the media root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureDirs creates every category directory.
func (s *Store) EnsureDirs() error {
	for _, c := range categories {
		if err := os.MkdirAll(filepath.Join(s.root, c.Directory), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", c.Directory, err)
		}
	}
	return nil
}

// cleanFilename strips any directory part and rejects names that are empty,
// dot entries or hidden.
func cleanFilename(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", ErrInvalidFilename
	}
	return name, nil
}

// Save copies r into the directory of the named category.
func (s *Store) Save(ctx context.Context, directory, filename string, r io.Reader) (Record, error) {
	category, err := Lookup(directory)
	if err != nil {
		return Record{}, err
	}
	name, err := cleanFilename(filename)
	if err != nil {
		return Record{}, err
	}

	dir := filepath.Join(s.root, category.Directory)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create %s directory: %w", category.Directory, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Record{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	size, err := io.CopyBuffer(tmp, r, make([]byte, copyChunk))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Record{}, fmt.Errorf("write upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	final, err := s.finalName(dir, name)
	if err != nil {
		return Record{}, err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return Record{}, fmt.Errorf("chmod upload: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, final)); err != nil {
		return Record{}, fmt.Errorf("move upload into place: %w", err)
	}
	committed = true

	rec := Record{
		Type:      category.Label,
		Directory: category.Directory,
		Filename:  final,
		Size:      size,
		ModTime:   time.Now(),
	}
	s.logger.Info("Upload stored",
		logger.String("category", category.Directory),
		logger.String("filename", final),
		logger.Int64("bytes", size),
	)
	s.record(ctx, rec)
	return rec, nil
}

func (s *Store) finalName(dir, name string) (string, error) {
	if s.collision == CollisionOverwrite {
		return name, nil
	}

	_, err := os.Lstat(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return name, nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if s.collision == CollisionReject {
		return "", fmt.Errorf("%s: %w", name, ErrExists)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return stem + "-" + suffix + ext, nil
}

// record is best effort: the file is already stored.
func (s *Store) record(ctx context.Context, rec Record) {
	if s.sink == nil {
		return
	}
	entry := &storage.LogEntry{
		Level:   "INFO",
		Message: fmt.Sprintf("upload stored: %s/%s", rec.Directory, rec.Filename),
		Actor:   actorFrom(ctx),
	}
	if err := s.sink.InsertLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to record upload", logger.Error(err))
	}
}

// List reads every category directory. Missing directories list as empty.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	for _, c := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, err := os.ReadDir(filepath.Join(s.root, c.Directory))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", c.Directory, err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			info, err := entry.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("stat %s/%s: %w", c.Directory, entry.Name(), err)
			}
			records = append(records, Record{
				Type:      c.Label,
				Directory: c.Directory,
				Filename:  entry.Name(),
				Size:      info.Size(),
				ModTime:   info.ModTime(),
			})
		}
	}
	return records, nil
}

// Grouped returns the listing keyed by category directory, every category present.
func Grouped(records []Record) map[string][]Record {
	grouped := make(map[string][]Record, len(categories))
	for _, c := range categories {
		grouped[c.Directory] = nil
	}
	for _, r := range records {
		grouped[r.Directory] = append(grouped[r.Directory], r)
	}
	for _, rs := range grouped {
		sort.SliceStable(rs, func(a, b int) bool { return rs[a].Filename < rs[b].Filename })
	}
	return grouped
}

// RecentLogs returns up to limit upload log entries from the last 24 hours.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]*storage.LogEntry, error) {
	if s.sink == nil {
		return nil, nil
	}
	entries, err := s.sink.ListLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	recent := entries[:0]
	for _, e := range entries {
		if e.Recent() {
			recent = append(recent, e)
		}
	}
	return recent, nil
}
