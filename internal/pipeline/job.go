package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
	"github.com/TobiSchelling/ArxivHarvester/internal/extract"
	"github.com/TobiSchelling/ArxivHarvester/internal/fetch"
	"github.com/TobiSchelling/ArxivHarvester/internal/metrics"
	"github.com/TobiSchelling/ArxivHarvester/internal/slug"
	"github.com/TobiSchelling/ArxivHarvester/internal/store"
)

// Stage names, also used as metric labels.
const (
	StageFetch    = "fetch"
	StageExtract  = "extract"
	StageKeywords = "keywords"
	StageStore    = "store"
)

// StepResult captures the outcome of one stage of a job.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// JobResult is what a single entry went through.
type JobResult struct {
	Slug  string
	Steps []StepResult
}

// Failed reports whether any stage failed.
func (j JobResult) Failed() bool {
	for _, s := range j.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

func (p *Pipeline) process(ctx context.Context, run *Run, e arxiv.Entry) {
	start := time.Now()
	log := p.log.With(zap.String("run_id", run.ID), zap.String("document_id", e.DocumentID))

	outcome := "ok"
	failed := true
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			log.Error("job panicked", zap.Any("panic", r), zap.String("title", e.Title))
		}
		run.complete(failed)
		metrics.IncreaseJobsMetric(outcome, time.Since(start))
		snap := run.Snapshot()
		metrics.UpdateRunMetric(snap.Processed, snap.Total)
	}()

	res := p.job(ctx, e, log)
	failed = res.Failed()
	if failed {
		outcome = "partial"
	}
	log.Debug("job finished",
		zap.String("slug", res.Slug),
		zap.Bool("failed", failed),
		zap.Duration("elapsed", time.Since(start)))
}

// job runs the stages for one entry. A failed fetch or extraction degrades to
// empty text and images; the record is still built and saved.
func (p *Pipeline) job(ctx context.Context, e arxiv.Entry, log *zap.Logger) JobResult {
	res := JobResult{Slug: slug.Entry(e.DocumentID, e.Title)}
	log = log.With(zap.String("slug", res.Slug))

	var local string
	if e.DocumentURL != "" {
		path, err := p.stages.Fetcher.Fetch(ctx, e.DocumentURL, res.Slug+".pdf")
		res.Steps = append(res.Steps, p.step(StageFetch, path, err, log))
		local = path
		if err != nil {
			local = ""
		}
	} else {
		log.Debug("entry has no document url")
	}

	var text string
	var images []string
	if local != "" {
		out, err := p.stages.Extractor.Extract(ctx, local, res.Slug)
		var summary string
		if err == nil && out != nil {
			text, images = out.Text, out.Images
			summary = fmt.Sprintf("%d chars, %d images", len([]rune(text)), len(images))
		}
		res.Steps = append(res.Steps, p.step(StageExtract, summary, err, log))
	}

	kws := p.stages.Keywords.Generate(ctx, Digest(e.Title, e.Summary, text, p.opts.DigestChars))
	res.Steps = append(res.Steps, StepResult{Name: StageKeywords, Summary: strings.Join(kws, ", ")})

	rec := store.NewRecord(e, text, images, kws)
	err := p.stages.Store.Save(ctx, rec)
	res.Steps = append(res.Steps, p.step(StageStore, rec.DocumentID, err, log))

	return res
}

func (p *Pipeline) step(name, summary string, err error, log *zap.Logger) StepResult {
	if err == nil {
		return StepResult{Name: name, Summary: summary}
	}

	metrics.IncreaseStageFailureMetric(name)
	fields := []zap.Field{zap.String("stage", name), zap.Error(err)}

	var fetchErr *fetch.Error
	var extractErr *extract.Error
	var storeErr *store.Error
	switch {
	case errors.As(err, &fetchErr):
		fields = append(fields, zap.String("url", fetchErr.URL), zap.Int("status", fetchErr.StatusCode),
			zap.Bool("timeout", fetchErr.Timeout()))
	case errors.As(err, &extractErr):
		fields = append(fields, zap.String("path", extractErr.Path))
	case errors.As(err, &storeErr):
		fields = append(fields, zap.String("op", storeErr.Op))
	}
	log.Warn("stage failed", fields...)

	return StepResult{Name: name, Summary: summary, Err: err}
}

// Digest joins title, summary and the first maxChars runes of text with single
// spaces, skipping empty parts.
func Digest(title, summary, text string, maxChars int) string {
	if r := []rune(text); len(r) > maxChars {
		text = string(r[:maxChars])
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{title, summary, text} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
