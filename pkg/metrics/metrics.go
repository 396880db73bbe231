// Package metrics provides Prometheus collectors for gridetl runs.
//
// # Overview
//
// Every pipeline stage records its duration, fetchers and extractors count
// the files they produce, the loader counts operations by outcome, and the
// blockstores count the blocks and bytes they persist. Batch runs have no
// scrape endpoint, so the CLI dumps the default gatherer to a node-exporter
// textfile with WriteTextfile.
//
// # Basic Usage
//
//	timer := metrics.NewTimer("fetch")
//	err := fetchAll(ctx)
//	metrics.StageDuration.WithLabelValues("cpc_us_precip", "fetch").Observe(timer.Stop().Seconds())
//
//	metrics.LoadOperations.WithLabelValues("append", metrics.Status(err)).Inc()
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

const (
	// StatusSuccess labels successful operations
	StatusSuccess = "success"
	// StatusFailure labels failed operations
	StatusFailure = "failure"
)

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

var (
	// StageDuration tracks how long each pipeline stage takes in seconds.
	// Labels: dataset, stage (assess/fetch/extract/combine/transform/load)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridetl_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"dataset", "stage"},
	)

	// FilesFetched counts source files yielded by fetchers.
	// Labels: fetcher, source (cache/remote/local)
	FilesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridetl_files_fetched_total",
			Help: "Total number of source files yielded by fetchers",
		},
		[]string{"fetcher", "source"},
	)

	// IntermediatesExtracted counts reference files produced by extractors.
	IntermediatesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridetl_intermediates_extracted_total",
			Help: "Total number of single-source reference files produced",
		},
		[]string{"extractor"},
	)

	// LoadOperations counts loader operations.
	// Labels: operation (initial/append/replace), status (success/failure)
	LoadOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridetl_load_operations_total",
			Help: "Total number of loader operations",
		},
		[]string{"operation", "status"},
	)

	// BlocksWritten counts blocks persisted per blockstore.
	BlocksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridetl_blocks_written_total",
			Help: "Total number of blocks written",
		},
		[]string{"blockstore"},
	)

	// BytesWritten counts block bytes persisted per blockstore.
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridetl_block_bytes_written_total",
			Help: "Total number of block bytes written",
		},
		[]string{"blockstore"},
	)

	// LastPublish records the Unix time of the last successful publish.
	LastPublish = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridetl_last_publish_timestamp_seconds",
			Help: "Unix time of the last successful publish",
		},
		[]string{"publisher"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the name the timer was created with.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// WriteTextfile writes every metric of the default gatherer to path in the
// text exposition format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write metrics to %s", path)
	}
	return nil
}
