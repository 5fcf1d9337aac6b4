package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Server serves the review endpoints and the run report page.
type Server struct {
	db        *database.DB
	logger    *zap.Logger
	languages []string
	page      *template.Template
	mux       *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLanguages sets the language preference used to collapse affairs in
// the review queue.
func WithLanguages(langs []string) Option {
	return func(s *Server) { s.languages = langs }
}

// New creates a new Server.
func New(db *database.DB, opts ...Option) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"since": func(t time.Time) string {
			return t.UTC().Format("2006-01-02 15:04 MST")
		},
	}
	page, err := template.New("report.html").Funcs(funcMap).ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}

	s := &Server{db: db, logger: zap.NewNop(), page: page, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return requestLogger(s.logger)(recoverer(s.logger)(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/decision", s.handleDecision)
	s.mux.HandleFunc("POST /api/fastlane-tag", s.handleFastlane)
	s.mux.HandleFunc("GET /api/review-items", s.handleReviewItems)
	s.mux.HandleFunc("GET /api/runs/latest", s.handleLatestRun)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRunPage)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.LatestRun(r.Context())
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Error("loading latest run", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.renderRun(w, r, run)
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, apperrors.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("loading run", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.renderRun(w, r, run)
}

func (s *Server) renderRun(w http.ResponseWriter, r *http.Request, run *database.Run) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		s.logger.Error("loading stats", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	runs, _ := s.db.ListRuns(r.Context(), 10)

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, map[string]any{"Run": run, "Stats": stats, "Runs": runs}); err != nil {
		s.logger.Error("rendering report", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("server listening", zap.String("addr", "http://"+addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
