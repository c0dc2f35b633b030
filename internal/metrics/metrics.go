package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	harvester = "arxivharvester"

	jobsTotal          = "jobs_total"
	jobDurationSeconds = "job_duration_seconds"
	stageFailuresTotal = "stage_failures_total"
	keywordSourceTotal = "keyword_source_total"
	runProcessed       = "run_processed"
	runTotal           = "run_total"

	// Labels
	outcomeLabel = "outcome"
	stageLabel   = "stage"
	sourceLabel  = "source"
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: harvester,
		Name:      jobsTotal,
		Help:      "number of finished jobs by outcome",
	},
	[]string{outcomeLabel},
)

var jobDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: harvester,
		Name:      jobDurationSeconds,
		Help:      "time spent on one entry from fetch to store",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	},
)

var stageFailuresMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: harvester,
		Name:      stageFailuresTotal,
		Help:      "number of job stage failures by stage",
	},
	[]string{stageLabel},
)

var keywordSourceMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: harvester,
		Name:      keywordSourceTotal,
		Help:      "how keyword lists were obtained: json, split or default",
	},
	[]string{sourceLabel},
)

var runProcessedMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: harvester,
		Name:      runProcessed,
		Help:      "entries processed in the current run",
	},
)

var runTotalMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: harvester,
		Name:      runTotal,
		Help:      "entries submitted in the current run",
	},
)

func IncreaseJobsMetric(outcome string, elapsed time.Duration) {
	jobsTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
	jobDurationMetric.Observe(elapsed.Seconds())
}

func IncreaseStageFailureMetric(stage string) {
	stageFailuresMetric.With(prometheus.Labels{stageLabel: stage}).Inc()
}

func IncreaseKeywordSourceMetric(source string) {
	keywordSourceMetric.With(prometheus.Labels{sourceLabel: source}).Inc()
}

func UpdateRunMetric(processed, total int) {
	runProcessedMetric.Set(float64(processed))
	runTotalMetric.Set(float64(total))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(stageFailuresMetric)
	prometheus.MustRegister(keywordSourceMetric)
	prometheus.MustRegister(runProcessedMetric)
	prometheus.MustRegister(runTotalMetric)
}
