package web

import (
	"errors"
	"net/http"

	"github.com/renderinc/pagekeeper/internal/auth"
	"github.com/renderinc/pagekeeper/internal/logger"
	"github.com/renderinc/pagekeeper/internal/storage"
	"github.com/renderinc/pagekeeper/internal/upload"
)

const (
	recentLogLimit = 20
	// multipartMemory is how much of a multipart body is held in memory
	// before spilling to temp files.
	multipartMemory = 8 << 20
)

type uploadGroup struct {
	Category upload.Category
	Files    []upload.Record
}

type uploadPage struct {
	layout
	Categories []upload.Category
	Selected   string
	Groups     []uploadGroup
	RecentLogs []*storage.LogEntry
	FormError  string
}

func (s *Server) renderUploadPage(w http.ResponseWriter, r *http.Request, status int, selected, formError string) {
	records, err := s.opts.Uploads.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.opts.Uploads.RecentLogs(r.Context(), recentLogLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	grouped := upload.Grouped(records)
	categories := upload.Categories()
	groups := make([]uploadGroup, 0, len(categories))
	for _, c := range categories {
		groups = append(groups, uploadGroup{Category: c, Files: grouped[c.Directory]})
	}

	s.render(w, status, "upload.html", uploadPage{
		layout:     s.layout(r, "Upload Files"),
		Categories: categories,
		Selected:   selected,
		Groups:     groups,
		RecentLogs: logs,
		FormError:  formError,
	})
}

func (s *Server) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	s.renderUploadPage(w, r, http.StatusOK, "", "")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.opts.Metrics.ObserveUpload("", "too_large", 0)
			s.renderUploadPage(w, r, http.StatusRequestEntityTooLarge, "", "File is too large.")
			return
		}
		s.renderUploadPage(w, r, http.StatusBadRequest, "", "Upload must be a multipart form.")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	category := r.FormValue("upload_type")
	file, header, err := r.FormFile("upload_file")
	if err != nil {
		s.renderUploadPage(w, r, http.StatusBadRequest, category, "No file was submitted.")
		return
	}
	defer file.Close()

	ctx := r.Context()
	if user, ok := auth.Subject(ctx); ok {
		ctx = upload.WithActor(ctx, user)
	}

	rec, err := s.opts.Uploads.Save(ctx, category, header.Filename, file)
	switch {
	case err == nil:
	case errors.Is(err, upload.ErrUnknownCategory):
		s.opts.Metrics.ObserveUpload("", "rejected", 0)
		s.renderUploadPage(w, r, http.StatusBadRequest, "", "Select a valid upload type.")
		return
	case errors.Is(err, upload.ErrInvalidFilename):
		s.opts.Metrics.ObserveUpload(category, "rejected", 0)
		s.renderUploadPage(w, r, http.StatusBadRequest, category, "The file name is not allowed.")
		return
	case errors.Is(err, upload.ErrExists):
		s.opts.Metrics.ObserveUpload(category, "conflict", 0)
		s.renderUploadPage(w, r, http.StatusConflict, category, "A file with that name already exists.")
		return
	default:
		s.opts.Metrics.ObserveUpload(category, "error", 0)
		s.fail(w, r, err)
		return
	}

	s.opts.Metrics.ObserveUpload(rec.Directory, "ok", rec.Size)
	s.logger.Info("File uploaded",
		logger.String("category", rec.Directory),
		logger.String("filename", rec.Filename),
		logger.Int64("bytes", rec.Size),
	)
	http.Redirect(w, r, "/upload", http.StatusSeeOther)
}
