package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a consistent view of a run's progress.
type Snapshot struct {
	RunID          string `json:"run_id"`
	Source         string `json:"source,omitempty"`
	Processed      int    `json:"processed"`
	Total          int    `json:"total"`
	Failed         int    `json:"failed"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Done           bool   `json:"done"`
}

// Run tracks one execution of the pipeline over a fixed list of entries.
type Run struct {
	ID        string
	Source    string
	StartedAt time.Time

	mu         sync.Mutex
	processed  int
	failed     int
	total      int
	finishedAt time.Time

	done chan struct{}
}

func newRun(source string, total int) *Run {
	r := &Run{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: time.Now(),
		total:     total,
		done:      make(chan struct{}),
	}
	if total == 0 {
		r.finishedAt = r.StartedAt
	}
	return r
}

// complete records one finished job. Every job calls it exactly once.
func (r *Run) complete(failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processed++
	if failed {
		r.failed++
	}
	if r.processed == r.total {
		r.finishedAt = time.Now()
	}
}

func (r *Run) close() {
	close(r.done)
}

// Snapshot returns the current progress without waiting on any job.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := r.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return Snapshot{
		RunID:          r.ID,
		Source:         r.Source,
		Processed:      r.processed,
		Total:          r.total,
		Failed:         r.failed,
		ElapsedSeconds: int(end.Sub(r.StartedAt).Seconds()),
		Done:           r.processed >= r.total,
	}
}

// Done is closed once every worker has returned.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends, and returns the latest snapshot.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}
