package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checksplit"

var (
	pagesClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_classified_total",
			Help:      "Pages classified by strategy and result (separator, content, error)",
		},
		[]string{"strategy", "result"},
	)

	separatorsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "separators_detected_total",
			Help:      "Total separator pages detected",
		},
	)

	rangesExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranges_extracted_total",
			Help:      "Total check ranges materialized into PDFs",
		},
	)

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Object uploads by final result",
		},
		[]string{"result"},
	)

	uploadRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_retries_total",
			Help:      "Total upload retry attempts",
		},
	)

	splits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_total",
			Help:      "Split operations by result (success, rejected, rolled_back, orphaned)",
		},
		[]string{"result"},
	)

	orphaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_records_total",
			Help:      "Records left behind by a failed compensating action",
		},
	)

	merges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Merge operations by result (reused, merged, failed)",
		},
		[]string{"result"},
	)

	ingestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Batch ingest duration by final status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(pagesClassified, separatorsDetected, rangesExtracted, uploads, uploadRetries, splits, orphaned, merges, ingestDuration)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncClassified(strategy, result string) { pagesClassified.WithLabelValues(strategy, result).Inc() }
func AddSeparators(n int)                   { separatorsDetected.Add(float64(n)) }
func IncRangeExtracted()                    { rangesExtracted.Inc() }
func IncUpload(result string)               { uploads.WithLabelValues(result).Inc() }
func IncUploadRetry()                       { uploadRetries.Inc() }
func IncSplit(result string)                { splits.WithLabelValues(result).Inc() }
func IncOrphaned(n int)                     { orphaned.Add(float64(n)) }
func IncMerge(result string)                { merges.WithLabelValues(result).Inc() }

func ObserveIngest(status string, d time.Duration) {
	ingestDuration.WithLabelValues(status).Observe(d.Seconds())
}
