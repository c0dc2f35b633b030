package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
	"github.com/TobiSchelling/ArxivHarvester/internal/pipeline"
	"github.com/TobiSchelling/ArxivHarvester/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Searcher runs one arXiv query and saves the result set.
type Searcher interface {
	Search(ctx context.Context, q arxiv.Query) (*arxiv.SearchResult, error)
}

// Runner starts pipeline runs and reports the latest one.
type Runner interface {
	Start(ctx context.Context, source string, entries []arxiv.Entry) (*pipeline.Run, error)
	Current() *pipeline.Run
}

// Records lists stored records.
type Records interface {
	Recent(ctx context.Context, limit int) ([]store.Record, error)
}

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Searcher   Searcher
	Pipeline   Runner
	Records    Records
	MaxResults int
	// ResultsDir, when set, is the only directory /process reads result sets from.
	ResultsDir string
	Log        *zap.Logger
}

// Server is the HTTP front end for searching, processing and browsing records.
type Server struct {
	deps  Deps
	log   *zap.Logger
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(deps Deps) (*Server, error) {
	if deps.Searcher == nil || deps.Pipeline == nil || deps.Records == nil {
		return nil, errors.New("server needs a searcher, a pipeline and a record store")
	}
	if deps.MaxResults <= 0 {
		deps.MaxResults = 50
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"join":     strings.Join,
		"date": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not clash.
	pageNames := []string{"index.html", "results.html", "records.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{deps: deps, log: log.Named("server"), pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("POST /process", s.handleProcess)
	s.mux.HandleFunc("GET /progress", s.handleProgress)
	s.mux.HandleFunc("GET /records", s.handleRecords)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, "index.html", map[string]any{
		"MaxResults": s.deps.MaxResults,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	terms := strings.TrimSpace(r.URL.Query().Get("q"))
	if terms == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	q := arxiv.Query{
		Terms:      terms,
		Start:      intParam(r, "start", 0),
		MaxResults: intParam(r, "max", s.deps.MaxResults),
	}

	data := map[string]any{"Query": q}
	res, err := s.deps.Searcher.Search(r.Context(), q)
	if err != nil {
		s.log.Warn("search failed", zap.String("terms", terms), zap.Error(err))
		data["Error"] = err.Error()
		s.renderStatus(w, http.StatusBadGateway, "results.html", data)
		return
	}
	data["Result"] = res
	s.render(w, "results.html", data)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	xmlPath := strings.TrimSpace(r.FormValue("xml_path"))
	if xmlPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "xml_path is required"})
		return
	}
	if !s.inResultsDir(xmlPath) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "xml_path must be inside the results directory"})
		return
	}
	if _, err := os.Stat(xmlPath); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("result set not found: %s", xmlPath)})
		return
	}

	entries, err := arxiv.ParseFile(xmlPath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	run, err := s.deps.Pipeline.Start(r.Context(), xmlPath, entries)
	var conflict *pipeline.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "run_id": conflict.RunID})
		return
	}
	if err != nil {
		s.log.Error("starting run", zap.String("xml_path", xmlPath), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "started",
		"run_id":   run.ID,
		"xml_path": xmlPath,
		"total":    len(entries),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	run := s.deps.Pipeline.Current()
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no run has been started"})
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	records, err := s.deps.Records.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("listing records", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "records.html", map[string]any{
		"Records": records,
		"Limit":   limit,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, http.StatusOK, name, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.Error("rendering template", zap.String("template", name), zap.Error(err))
	}
}

func (s *Server) inResultsDir(path string) bool {
	if s.deps.ResultsDir == "" {
		return true
	}
	root, err := filepath.Abs(s.deps.ResultsDir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on 127.0.0.1:port until ctx is cancelled.
func Serve(ctx context.Context, deps Deps, port int) error {
	srv, err := New(deps)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		srv.log.Info("server listening", zap.String("url", "http://"+addr))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
