package metrics

/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsdeny/internal/logging"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application.
type Metrics struct {
	// Source fetch metrics
	SourceFetchDuration *prometheus.HistogramVec
	SourceFetchesTotal  *prometheus.CounterVec
	SourceFetchErrors   *prometheus.CounterVec
	SourceFetchRetries  *prometheus.CounterVec

	// Filter pipeline metrics
	LinesScannedTotal      *prometheus.CounterVec
	DomainsExtractedTotal  *prometheus.CounterVec
	DuplicatesSkippedTotal *prometheus.CounterVec
	DomainsRenderedTotal   *prometheus.CounterVec

	// Worker metrics
	WorkerBusy      *prometheus.GaugeVec
	WorkerProcessed *prometheus.CounterVec
	WorkerErrors    *prometheus.CounterVec
	WorkerPanics    *prometheus.CounterVec
	WorkerRateLimit *prometheus.GaugeVec

	// Queue metrics
	QueueSize            *prometheus.GaugeVec
	QueueCapacity        *prometheus.GaugeVec
	QueueBackpressureHit *prometheus.CounterVec

	// Disk I/O metrics
	DiskWriteDuration *prometheus.HistogramVec
	DiskWriteBytes    *prometheus.CounterVec
	DiskWriteOps      *prometheus.CounterVec
	DiskErrors        *prometheus.CounterVec

	// Scheduler metrics
	SchedulerShardsActive  *prometheus.GaugeVec
	SchedulerWorkSubmitted *prometheus.CounterVec
	SchedulerWorkCompleted *prometheus.CounterVec
	SchedulerWorkFailed    *prometheus.CounterVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection.
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// newMetrics creates and registers all metrics.
func newMetrics() *Metrics {
	buckets := []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

	m := &Metrics{
		SourceFetchDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnsdeny_source_fetch_duration_seconds",
				Help:    "Time spent fetching a source payload, retries included",
				Buckets: buckets,
			},
			[]string{"source"},
		),
		SourceFetchesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_source_fetches_total",
				Help: "Total number of successful source fetches",
			},
			[]string{"source"},
		),
		SourceFetchErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_source_fetch_errors_total",
				Help: "Total number of source fetches that failed after all retries",
			},
			[]string{"source"},
		),
		SourceFetchRetries: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_source_fetch_retries_total",
				Help: "Total number of fetch retry attempts",
			},
			[]string{"source"},
		),

		LinesScannedTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_lines_scanned_total",
				Help: "Total number of input lines scanned",
			},
			[]string{"source"},
		),
		DomainsExtractedTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_domains_extracted_total",
				Help: "Total number of domain tokens surviving extraction and normalization",
			},
			[]string{"source"},
		),
		DuplicatesSkippedTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_duplicates_skipped_total",
				Help: "Total number of tokens dropped because an earlier source already supplied them",
			},
			[]string{"source"},
		),
		DomainsRenderedTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_domains_rendered_total",
				Help: "Total number of unique domains written to output",
			},
			[]string{"format"},
		),

		WorkerBusy: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsdeny_worker_busy",
				Help: "Whether a worker is currently busy (1) or idle (0)",
			},
			[]string{"worker_id"},
		),
		WorkerProcessed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_worker_processed_total",
				Help: "Total number of work items processed by a worker",
			},
			[]string{"worker_id", "source"},
		),
		WorkerErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_worker_errors_total",
				Help: "Total number of errors encountered by a worker",
			},
			[]string{"worker_id", "source", "error_type"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerRateLimit: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsdeny_worker_rate_limit",
				Help: "Current requests-per-second limit for each worker",
			},
			[]string{"worker_id"},
		),

		QueueSize: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsdeny_queue_size",
				Help: "Current size of work queues",
			},
			[]string{"worker_id"},
		),
		QueueCapacity: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsdeny_queue_capacity",
				Help: "Maximum capacity of work queues",
			},
			[]string{"worker_id"},
		),
		QueueBackpressureHit: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_queue_backpressure_hits_total",
				Help: "Number of times a submit was rejected because a queue was full",
			},
			[]string{"worker_id", "source"},
		),

		DiskWriteDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnsdeny_disk_write_duration_seconds",
				Help:    "Time spent writing output files",
				Buckets: buckets,
			},
			[]string{"file", "operation"},
		),
		DiskWriteBytes: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_disk_write_bytes_total",
				Help: "Total number of bytes written to disk",
			},
			[]string{"file", "operation"},
		),
		DiskWriteOps: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_disk_write_ops_total",
				Help: "Total number of write operations to disk",
			},
			[]string{"file", "operation"},
		),
		DiskErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_disk_errors_total",
				Help: "Total number of disk errors",
			},
			[]string{"file", "operation", "error_type"},
		),

		SchedulerShardsActive: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnsdeny_scheduler_shards_active",
				Help: "Number of active shards in the scheduler",
			},
			[]string{"operation"},
		),
		SchedulerWorkSubmitted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_scheduler_work_submitted_total",
				Help: "Total number of work items submitted to the scheduler",
			},
			[]string{"source", "operation"},
		),
		SchedulerWorkCompleted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_scheduler_work_completed_total",
				Help: "Total number of work items completed by the scheduler",
			},
			[]string{"source", "operation"},
		),
		SchedulerWorkFailed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnsdeny_scheduler_work_failed_total",
				Help: "Total number of work items that failed processing",
			},
			[]string{"source", "operation", "error_type"},
		),
	}

	return m
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	var startErr error
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		go func() {
			logging.Infof("starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("metrics server error: %v", err)
			}
		}()
	})

	return startErr
}

// ShutdownMetricsServer gracefully shuts down the metrics server.
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		logging.Info("shutting down metrics server")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration starts a timer against a histogram; the returned func
// observes the elapsed time. A no-op when metrics are disabled.
func MeasureDuration(histogram *prometheus.HistogramVec, labelValues ...string) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		histogram.WithLabelValues(labelValues...).Observe(time.Since(start).Seconds())
	}
}

// MeasureFetch times one source fetch.
func MeasureFetch(source string) func() {
	return MeasureDuration(GetMetrics().SourceFetchDuration, source)
}

// IncFetches counts a successful source fetch.
func IncFetches(source string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().SourceFetchesTotal.WithLabelValues(source).Inc()
}

// IncFetchErrors counts a source fetch that failed after all retries.
func IncFetchErrors(source string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().SourceFetchErrors.WithLabelValues(source).Inc()
}

// IncRetries counts one fetch retry attempt.
func IncRetries(source string) {
	if !metricsEnabled {
		return
	}
	GetMetrics().SourceFetchRetries.WithLabelValues(source).Inc()
}

// ObserveFilterStats records per-source pipeline counters after a source has
// been folded into the unique set.
func ObserveFilterStats(source string, linesScanned, domainsExtracted, duplicatesSkipped int64) {
	if !metricsEnabled {
		return
	}
	m := GetMetrics()
	m.LinesScannedTotal.WithLabelValues(source).Add(float64(linesScanned))
	m.DomainsExtractedTotal.WithLabelValues(source).Add(float64(domainsExtracted))
	m.DuplicatesSkippedTotal.WithLabelValues(source).Add(float64(duplicatesSkipped))
}

// ObserveRendered records how many unique domains a run wrote out.
func ObserveRendered(format string, count int) {
	if !metricsEnabled {
		return
	}
	GetMetrics().DomainsRenderedTotal.WithLabelValues(format).Add(float64(count))
}

// UpdateQueueMetrics updates queue gauges for a worker.
func (m *Metrics) UpdateQueueMetrics(workerID string, queueSize, queueCapacity int) {
	if !metricsEnabled {
		return
	}
	m.QueueSize.WithLabelValues(workerID).Set(float64(queueSize))
	m.QueueCapacity.WithLabelValues(workerID).Set(float64(queueCapacity))
}

// UpdateWorkerRateLimit updates the rate limit gauge for a worker.
func (m *Metrics) UpdateWorkerRateLimit(workerID string, rateLimit float64) {
	if !metricsEnabled {
		return
	}
	m.WorkerRateLimit.WithLabelValues(workerID).Set(rateLimit)
}
