package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// driverName is sqlite3 with a unicode-aware casefold() SQL function registered
// on every connection. SQLite's own lower() only folds ASCII.
const driverName = "sqlite3_pagekeeper"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", strings.ToLower, true)
		},
	})
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// ErrNotFound is returned when a page lookup matches nothing.
var ErrNotFound = errors.New("not found")

// DB wraps SQLite database operations
type DB struct {
	db *sqlx.DB
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	db, err := sqlx.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the web server read while a sync writes.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	storage := New(db)
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// New wraps an already-open connection without touching the schema.
func New(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pages_title ON pages(title);
	CREATE INDEX IF NOT EXISTS idx_pages_updated ON pages(updated_at);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		datetime TIMESTAMP NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_logs_datetime ON logs(datetime);
	`

	_, err := d.db.Exec(schema)
	return err
}

const pageColumns = `id, slug, title, content, content_hash, created_at, updated_at`

// UpsertPage inserts or updates a page keyed by slug and sets p.ID.
func (d *DB) UpsertPage(ctx context.Context, p *Page) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.ContentHash == "" {
		p.ContentHash = Hash(p.Title, p.Content)
	}

	query := `
	INSERT INTO pages (slug, title, content, content_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(slug) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		content_hash = excluded.content_hash,
		updated_at = excluded.updated_at
	RETURNING id
	`

	err := d.db.QueryRowxContext(ctx, query,
		p.Slug, p.Title, p.Content, p.ContentHash, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upsert page %s: %w", p.Slug, err)
	}
	return nil
}

// GetPage retrieves a page by ID
func (d *DB) GetPage(ctx context.Context, id int64) (*Page, error) {
	p := &Page{}
	err := d.db.GetContext(ctx, p, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPageBySlug retrieves a page by its slug
func (d *DB) GetPageBySlug(ctx context.Context, slug string) (*Page, error) {
	p := &Page{}
	err := d.db.GetContext(ctx, p, `SELECT `+pageColumns+` FROM pages WHERE slug = ?`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPages loads the pages with the given IDs, keyed by ID. Missing IDs are
// absent from the map.
func (d *DB) GetPages(ctx context.Context, ids []int64) (map[int64]*Page, error) {
	pages := make(map[int64]*Page, len(ids))
	if len(ids) == 0 {
		return pages, nil
	}

	query, args, err := sqlx.In(`SELECT `+pageColumns+` FROM pages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []*Page
	if err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range rows {
		pages[p.ID] = p
	}
	return pages, nil
}

// ListPages retrieves all pages, most recently updated first
func (d *DB) ListPages(ctx context.Context) ([]*Page, error) {
	var pages []*Page
	err := d.db.SelectContext(ctx, &pages, `SELECT `+pageColumns+` FROM pages ORDER BY updated_at DESC, id DESC`)
	return pages, err
}

// TitleContains returns every page whose title contains s, ignoring case.
func (d *DB) TitleContains(ctx context.Context, s string) ([]*Page, error) {
	return d.containing(ctx, "title", s)
}

// ContentContains returns every page whose content contains s, ignoring case.
func (d *DB) ContentContains(ctx context.Context, s string) ([]*Page, error) {
	return d.containing(ctx, "content", s)
}

// containing uses instr rather than LIKE so that % and _ in s are literal.
func (d *DB) containing(ctx context.Context, column, s string) ([]*Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM pages WHERE instr(casefold(%s), casefold(?)) > 0 ORDER BY title, id`,
		pageColumns, column)

	var pages []*Page
	if err := d.db.SelectContext(ctx, &pages, query, s); err != nil {
		return nil, fmt.Errorf("%s substring search: %w", column, err)
	}
	return pages, nil
}

// CountPages returns the total number of pages
func (d *DB) CountPages(ctx context.Context) (int, error) {
	var count int
	err := d.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM pages")
	return count, err
}

// GetContentHash retrieves just the content hash for a page, or "" if the
// slug is unknown.
func (d *DB) GetContentHash(ctx context.Context, slug string) (string, error) {
	var hash string
	err := d.db.GetContext(ctx, &hash, "SELECT content_hash FROM pages WHERE slug = ?", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// InsertLog appends an activity entry and sets e.ID.
func (d *DB) InsertLog(ctx context.Context, e *LogEntry) error {
	if e.Datetime.IsZero() {
		e.Datetime = time.Now()
	}
	e.Datetime = e.Datetime.UTC()
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO logs (datetime, level, message, actor) VALUES (?, ?, ?, ?)`,
		e.Datetime, e.Level, e.Message, e.Actor,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// ListLogs returns the latest limit entries, newest first.
func (d *DB) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	var entries []*LogEntry
	err := d.db.SelectContext(ctx, &entries,
		`SELECT id, datetime, level, message, actor FROM logs ORDER BY datetime DESC, id DESC LIMIT ?`, limit)
	return entries, err
}
