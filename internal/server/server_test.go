package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
	"github.com/TobiSchelling/ArxivHarvester/internal/extract"
	"github.com/TobiSchelling/ArxivHarvester/internal/pipeline"
	"github.com/TobiSchelling/ArxivHarvester/internal/store"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/">
  <title>arXiv Query</title>
  <opensearch:totalResults>2</opensearch:totalResults>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <title>First Paper</title>
    <summary>About the first thing.</summary>
    <published>2024-01-01T00:00:00Z</published>
    <author><name>Ada Lovelace</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <title>Second Paper</title>
    <summary>About the second thing.</summary>
    <published>2024-01-02T00:00:00Z</published>
    <author><name>Alan Turing</name></author>
  </entry>
</feed>`

type mockSearcher struct {
	result *arxiv.SearchResult
	err    error
	got    arxiv.Query
}

func (m *mockSearcher) Search(_ context.Context, q arxiv.Query) (*arxiv.SearchResult, error) {
	m.got = q
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	res.Query = q
	return &res, nil
}

// gateFetcher blocks every download until release is closed.
type gateFetcher struct {
	release chan struct{}
}

func (g *gateFetcher) Fetch(ctx context.Context, url, name string) (string, error) {
	<-g.release
	return "", errors.New("offline")
}

type nopExtractor struct{}

func (nopExtractor) Extract(context.Context, string, string) (*extract.Result, error) {
	return &extract.Result{}, nil
}

type staticKeywords struct{}

func (staticKeywords) Generate(context.Context, string) []string {
	return []string{"testing"}
}

type testEnv struct {
	srv      *Server
	pipeline *pipeline.Pipeline
	records  *store.MemoryStore
	searcher *mockSearcher
	release  chan struct{}
	xmlPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	resultsDir := t.TempDir()
	xmlPath := filepath.Join(resultsDir, "arxiv_test.xml")
	if err := os.WriteFile(xmlPath, []byte(feedXML), 0o644); err != nil {
		t.Fatalf("failed to write feed: %v", err)
	}

	release := make(chan struct{})
	records := store.NewMemory()
	p, err := pipeline.New(pipeline.Stages{
		Fetcher:   &gateFetcher{release: release},
		Extractor: nopExtractor{},
		Keywords:  staticKeywords{},
		Store:     records,
	}, pipeline.Options{Concurrency: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	searcher := &mockSearcher{result: &arxiv.SearchResult{Path: xmlPath, Total: 2, Returned: 2}}
	srv, err := New(Deps{Searcher: searcher, Pipeline: p, Records: records, ResultsDir: resultsDir, Log: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	env := &testEnv{srv: srv, pipeline: p, records: records, searcher: searcher, release: release, xmlPath: xmlPath}
	t.Cleanup(env.releaseFetches)
	return env
}

func (e *testEnv) releaseFetches() {
	select {
	case <-e.release:
	default:
		close(e.release)
	}
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestIndexRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Search arXiv") {
		t.Error("expected 'Search arXiv' in response body")
	}

	rec = env.do("GET", "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestSearchRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/search?q=quantum+computing&start=10&max=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.searcher.got.Terms != "quantum computing" || env.searcher.got.Start != 10 || env.searcher.got.MaxResults != 5 {
		t.Errorf("unexpected query %+v", env.searcher.got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, env.xmlPath) {
		t.Error("expected saved path in response")
	}
	if !strings.Contains(body, `action="/process"`) {
		t.Error("expected process form in response")
	}
}

func TestSearchRouteDefaults(t *testing.T) {
	env := newTestEnv(t)

	env.do("GET", "/search?q=graphs", nil)
	if env.searcher.got.Start != 0 || env.searcher.got.MaxResults != 50 {
		t.Errorf("expected default paging, got %+v", env.searcher.got)
	}

	rec := env.do("GET", "/search?q=", nil)
	if rec.Code != http.StatusFound {
		t.Errorf("expected redirect for empty query, got %d", rec.Code)
	}
}

func TestSearchRouteUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.searcher.err = errors.New("arxiv returned 503")

	rec := env.do("GET", "/search?q=graphs", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "arxiv returned 503") {
		t.Error("expected error message in response")
	}
}

func TestProgressBeforeAnyRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/progress", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if _, ok := decode(t, rec)["error"]; !ok {
		t.Error("expected error field")
	}
}

func TestProcessValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/process", url.Values{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing path, got %d", rec.Code)
	}

	rec = env.do("POST", "/process", url.Values{"xml_path": {filepath.Join(filepath.Dir(env.xmlPath), "missing.xml")}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing file, got %d", rec.Code)
	}
	if !strings.Contains(decode(t, rec)["error"].(string), "not found") {
		t.Error("expected 'not found' in error")
	}
}

func TestProcessConflictAndProgress(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{"xml_path": {env.xmlPath}}

	rec := env.do("POST", "/process", form)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	started := decode(t, rec)
	if started["status"] != "started" || started["total"] != float64(2) {
		t.Errorf("unexpected start body %v", started)
	}
	runID, _ := started["run_id"].(string)
	if runID == "" {
		t.Fatal("expected run_id")
	}

	rec = env.do("POST", "/process", form)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while running, got %d", rec.Code)
	}
	if decode(t, rec)["run_id"] != runID {
		t.Error("expected conflicting run id in 409 body")
	}

	rec = env.do("GET", "/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	progress := decode(t, rec)
	if progress["done"] != false || progress["total"] != float64(2) || progress["run_id"] != runID {
		t.Errorf("unexpected progress %v", progress)
	}

	env.releaseFetches()
	if _, err := env.pipeline.Current().Wait(context.Background()); err != nil {
		t.Fatalf("waiting for run: %v", err)
	}

	progress = decode(t, env.do("GET", "/progress", nil))
	if progress["done"] != true || progress["processed"] != float64(2) {
		t.Errorf("expected finished progress, got %v", progress)
	}

	n, _ := env.records.Count(context.Background())
	if n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestRecordsRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := store.NewRecord(arxiv.Entry{
		Title:      "Stored Paper",
		Summary:    "Uses **bold** claims.",
		Authors:    []string{"Grace Hopper"},
		DocumentID: "2401.00003",
	}, "body text", nil, []string{"compilers"})
	rec.CreatedAt = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	if err := env.records.Save(context.Background(), rec); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}

	resp := env.do("GET", "/records?limit=10", nil)
	if resp.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{"Stored Paper", "Grace Hopper", "compilers", "<strong>bold</strong>"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "arxivharvester_") {
		t.Error("expected harvester metrics in output")
	}
}

func TestStaticRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/static/style.css", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestProcessRejectsPathOutsideResultsDir(t *testing.T) {
	env := newTestEnv(t)

	outside := filepath.Join(t.TempDir(), "elsewhere.xml")
	if err := os.WriteFile(outside, []byte(feedXML), 0o644); err != nil {
		t.Fatalf("failed to write feed: %v", err)
	}
	escape := filepath.Join(filepath.Dir(env.xmlPath), "..", filepath.Base(filepath.Dir(outside)), "elsewhere.xml")

	for _, p := range []string{outside, escape, "/etc/passwd", filepath.Dir(env.xmlPath)} {
		rec := env.do("POST", "/process", url.Values{"xml_path": {p}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", p, rec.Code)
		}
	}
	if env.pipeline.Current() != nil {
		t.Error("expected no run to start")
	}
}
