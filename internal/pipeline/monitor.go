package pipeline

import (
	"context"
	"time"
)

// Monitor calls report with the run's snapshot every interval, and once more
// when the run finishes. It returns when the run is done or ctx ends.
func Monitor(ctx context.Context, run *Run, interval time.Duration, report func(Snapshot)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-run.Done():
			report(run.Snapshot())
			return
		case <-ticker.C:
			report(run.Snapshot())
		}
	}
}
