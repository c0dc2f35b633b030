// Package pipeline runs one enrichment job per entry across a bounded worker
// pool and exposes live progress for the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
	"github.com/TobiSchelling/ArxivHarvester/internal/config"
	"github.com/TobiSchelling/ArxivHarvester/internal/extract"
	"github.com/TobiSchelling/ArxivHarvester/internal/store"
)

// Fetcher downloads a document and returns its local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, name string) (string, error)
}

// Extractor pulls text and images out of a local document.
type Extractor interface {
	Extract(ctx context.Context, path, slug string) (*extract.Result, error)
}

// KeywordGenerator derives descriptive terms from a digest. It cannot fail.
type KeywordGenerator interface {
	Generate(ctx context.Context, digest string) []string
}

// RecordStore persists finished records.
type RecordStore interface {
	Save(ctx context.Context, rec *store.Record) error
}

// Stages are the shared collaborators every job calls.
type Stages struct {
	Fetcher   Fetcher
	Extractor Extractor
	Keywords  KeywordGenerator
	Store     RecordStore
}

// Options tunes a Pipeline.
type Options struct {
	// Concurrency is the worker pool size.
	Concurrency int
	// DigestChars is how much extracted text goes into the keyword digest.
	DigestChars int
}

// DefaultConcurrency is used when Options.Concurrency is zero.
const DefaultConcurrency = 4

// DefaultDigestChars is used when Options.DigestChars is zero.
const DefaultDigestChars = 1500

// ErrConflict matches any *ConflictError via errors.Is.
var ErrConflict = errors.New("pipeline run already active")

// ConflictError is returned when a run is requested while another is active.
type ConflictError struct {
	RunID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pipeline run %s is still active", e.RunID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Pipeline owns the stage implementations and at most one active Run.
type Pipeline struct {
	stages Stages
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	current *Run
}

// New validates the stages and options. Problems are reported as *config.Error.
func New(stages Stages, opts Options, log *zap.Logger) (*Pipeline, error) {
	switch {
	case stages.Fetcher == nil:
		return nil, &config.Error{Field: "pipeline.fetcher", Reason: "not set"}
	case stages.Extractor == nil:
		return nil, &config.Error{Field: "pipeline.extractor", Reason: "not set"}
	case stages.Keywords == nil:
		return nil, &config.Error{Field: "pipeline.keywords", Reason: "not set"}
	case stages.Store == nil:
		return nil, &config.Error{Field: "pipeline.store", Reason: "not set"}
	}

	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Concurrency < 0 {
		return nil, &config.Error{Field: "pipeline.concurrency", Reason: "must be at least 1"}
	}
	if opts.DigestChars == 0 {
		opts.DigestChars = DefaultDigestChars
	}
	if opts.DigestChars < 0 {
		return nil, &config.Error{Field: "pipeline.digest_chars", Reason: "must not be negative"}
	}

	return &Pipeline{stages: stages, opts: opts, log: log.Named("pipeline")}, nil
}

// Start launches a run over entries and returns immediately. It fails with
// *ConflictError while the previous run has unfinished jobs. The run ignores
// cancellation of ctx; only the stages' own timeouts cut work short.
func (p *Pipeline) Start(ctx context.Context, source string, entries []arxiv.Entry) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && !p.current.Snapshot().Done {
		return nil, &ConflictError{RunID: p.current.ID}
	}

	run := newRun(source, len(entries))
	p.current = run

	entries = append([]arxiv.Entry(nil), entries...)
	go p.execute(context.WithoutCancel(ctx), run, entries)

	p.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("source", source),
		zap.Int("total", len(entries)),
		zap.Int("workers", p.opts.Concurrency))
	return run, nil
}

// Run starts a run and blocks until every job has finished or ctx ends.
func (p *Pipeline) Run(ctx context.Context, source string, entries []arxiv.Entry) (Snapshot, error) {
	run, err := p.Start(ctx, source, entries)
	if err != nil {
		return Snapshot{}, err
	}
	return run.Wait(ctx)
}

// Current returns the most recent run, or nil if none has started.
func (p *Pipeline) Current() *Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Pipeline) execute(ctx context.Context, run *Run, entries []arxiv.Entry) {
	g := new(errgroup.Group)
	g.SetLimit(p.opts.Concurrency)

	for _, e := range entries {
		g.Go(func() error {
			p.process(ctx, run, e)
			return nil
		})
	}
	g.Wait()
	run.close()

	snap := run.Snapshot()
	p.log.Info("run finished",
		zap.String("run_id", run.ID),
		zap.Int("processed", snap.Processed),
		zap.Int("failed", snap.Failed),
		zap.Int("elapsed_seconds", snap.ElapsedSeconds))
}
