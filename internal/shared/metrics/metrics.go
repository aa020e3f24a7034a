// Package metrics defines the Prometheus collectors for the receipt pipeline
// and exposes a scrape handler.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UploadsTotal counts upload requests by outcome (ok, rejected, error).
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_uploads_total",
			Help: "Total upload requests by outcome.",
		},
		[]string{"outcome"},
	)

	// UploadFilesTotal counts files accepted into batches.
	UploadFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "receipt_upload_files_total",
			Help: "Total files accepted into batches.",
		},
	)

	// AnalysesTotal counts analysis calls by outcome (succeeded, degraded, demo).
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_analyses_total",
			Help: "Total analysis operations by outcome.",
		},
		[]string{"outcome"},
	)

	// AnalysisDuration observes end-to-end analysis latency per file.
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "receipt_analysis_duration_seconds",
			Help:    "End-to-end analysis latency per file in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// SubmissionsTotal counts submissions by outcome (ok, rejected, error).
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipt_submissions_total",
			Help: "Total submissions by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		UploadsTotal,
		UploadFilesTotal,
		AnalysesTotal,
		AnalysisDuration,
		SubmissionsTotal,
	)
}

// Handler returns the Prometheus scrape handler adapted for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
