// Package web serves the search, upload and page views.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/renderinc/pagekeeper/internal/auth"
	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/metrics"
	"github.com/renderinc/pagekeeper/internal/search"
	"github.com/renderinc/pagekeeper/internal/storage"
	"github.com/renderinc/pagekeeper/internal/upload"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// PageReader is the read side of the content store used by the page and
// health views.
type PageReader interface {
	GetPageBySlug(ctx context.Context, slug string) (*storage.Page, error)
	CountPages(ctx context.Context) (int, error)
}

// Options carries everything the server needs.
type Options struct {
	Composer    *search.Composer
	Engine      search.Engine
	Pages       PageReader
	Uploads     *upload.Store
	Sessions    *auth.Manager
	Credentials auth.Credentials
	Metrics     *metrics.Metrics
	Logger      logger.Logger

	// MaxUploadBytes caps the request body of an upload.
	MaxUploadBytes int64
	SecureCookie   bool
}

type Server struct {
	opts      Options
	logger    logger.Logger
	templates *template.Template
}

func NewServer(opts Options) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing templates: %w", err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	return &Server{
		opts:      opts,
		logger:    opts.Logger,
		templates: tmpl,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(mediaFS{root: http.Dir(s.opts.Uploads.Root())})))

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/search", http.StatusFound)
	})
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.Handle("GET /upload", s.opts.Sessions.RequireLogin(http.HandlerFunc(s.handleUploadForm)))
	mux.Handle("POST /upload", s.opts.Sessions.RequireLogin(http.HandlerFunc(s.handleUpload)))
	mux.HandleFunc("GET /pages/{slug}/", s.handlePage)
	mux.HandleFunc("GET /login", s.handleLoginForm)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.opts.Metrics.Handler())

	return s.observe(mux)
}

// layout is shared by every rendered page.
type layout struct {
	Title string
	User  string
}

func (s *Server) layout(r *http.Request, title string) layout {
	l := layout{Title: title}
	if user, ok := auth.Subject(r.Context()); ok {
		l.User = user
	} else if user, ok := s.opts.Sessions.Authenticate(r); ok {
		l.User = user
	}
	return l
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Error rendering template", logger.String("template", name), logger.Error(err))
	}
}

// fail logs err and answers with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Request failed",
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.Error(err),
	)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

type searchPage struct {
	layout
	*search.Results
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	results, err := s.opts.Composer.Compose(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.opts.Metrics.ObserveSearch(metrics.SearchError, time.Since(start), 0, 0, 0)
		s.fail(w, r, err)
		return
	}

	if results.Error != "" {
		s.opts.Metrics.ObserveSearch(metrics.SearchShort, time.Since(start), 0, 0, 0)
	} else {
		s.opts.Metrics.ObserveSearch(metrics.SearchOK, time.Since(start),
			len(results.TextResults), len(results.TitleResults), len(results.ContentResults))
	}

	s.render(w, http.StatusOK, "search.html", searchPage{
		layout:  s.layout(r, "Search Results"),
		Results: results,
	})
}

type pageView struct {
	layout
	Page *storage.Page
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	page, err := s.opts.Pages.GetPageBySlug(r.Context(), r.PathValue("slug"))
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.render(w, http.StatusOK, "page.html", pageView{
		layout: s.layout(r, page.Title),
		Page:   page,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	dbCount, err := s.opts.Pages.CountPages(r.Context())
	if err != nil {
		s.logger.Warn("Health check: page count failed", logger.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	indexCount, err := s.opts.Engine.Count(r.Context())
	if err != nil {
		s.logger.Warn("Health check: index count failed", logger.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":             status,
		"pages_in_db":        dbCount,
		"documents_in_index": indexCount,
	})
}
