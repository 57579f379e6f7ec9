// Package server serves the run ledger and per-run reports over HTTP.
package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/logging"
	"github.com/TobiSchelling/reviewsense/internal/pipeline"
	"github.com/TobiSchelling/reviewsense/internal/report"
	"github.com/TobiSchelling/reviewsense/internal/review"
	"github.com/TobiSchelling/reviewsense/internal/snapshot"
)

//go:embed templates/*.html
var templateFS embed.FS

const recentRuns = 50

// artifacts are the run directory files that may be downloaded.
var artifacts = []string{
	pipeline.RawFile,
	pipeline.NormalizedFile,
	pipeline.PredictedFile,
	pipeline.XLSXFile,
	pipeline.ReportFile,
}

// Server is the HTTP server for browsing runs.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
	log   *slog.Logger
}

// New creates a new Server.
func New(db *database.DB, log *slog.Logger) (*Server, error) {
	funcMap := template.FuncMap{
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base with its own "content" block.
	pageNames := []string{"index.html", "run.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux(), log: logging.OrDefault(log)}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /runs/{id}/files/{name}", s.handleArtifact)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.fail(w, "loading stats", err)
		return
	}
	runs, err := s.db.GetRecentRuns(recentRuns)
	if err != nil {
		s.fail(w, "loading runs", err)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Stats": stats,
		"Runs":  runs,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.db.GetRun(id)
	if err != nil {
		s.fail(w, "loading run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	rows, err := s.predictions(run.Dir)
	if err != nil {
		s.log.Warn("predictions unavailable", "run", id, "error", err)
	}
	in, err := report.Load(s.db, id, rows)
	if err != nil {
		s.fail(w, "loading report", err)
		return
	}
	body, err := report.Markdown(report.Build(*in))
	if err != nil {
		s.fail(w, "rendering report", err)
		return
	}

	var files []string
	for _, name := range artifacts {
		if _, err := os.Stat(filepath.Join(run.Dir, name)); err == nil {
			files = append(files, name)
		}
	}

	s.render(w, "run.html", map[string]any{
		"Run":    run,
		"Report": body,
		"Files":  files,
	})
}

// predictions reads the classified snapshot of a run, if it has one.
func (s *Server) predictions(dir string) ([]review.Classified, error) {
	rows, err := snapshot.ReadClassified(filepath.Join(dir, pipeline.PredictedFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !slices.Contains(artifacts, name) {
		http.NotFound(w, r)
		return
	}
	run, err := s.db.GetRun(r.PathValue("id"))
	if err != nil {
		s.fail(w, "loading run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, filepath.Join(run.Dir, name))
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.Error("rendering template", "name", name, "error", err)
	}
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int, log *slog.Logger) error {
	srv, err := New(db, log)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.log.Info("server listening", "url", "http://"+addr)
	return http.ListenAndServe(addr, srv.Handler())
}
