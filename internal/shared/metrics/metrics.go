package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "quota_exceeded"
	OutcomeFailed    = "failed"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	uploadsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_uploads_total",
		Help: "Uploads by outcome",
	}, []string{"outcome"})

	uploadBytesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_upload_bytes_total",
		Help: "Uploaded bytes by kind (stored for new blobs, deduplicated for duplicates)",
	}, []string{"kind"})

	deletesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_deletes_total",
		Help: "Delete requests by outcome",
	}, []string{"outcome"})

	blobsReclaimedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "filevault_blobs_reclaimed_total",
		Help: "Blobs physically removed after their last reference was deleted",
	})

	quotaReleaseTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "filevault_quota_released_bytes_total",
		Help: "Bytes credited back to user quotas",
	})

	uploadDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "filevault_upload_duration_seconds",
		Help:    "Upload duration from first byte to committed record",
		Buckets: prometheus.DefBuckets,
	})

	httpRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "path", "status"})

	httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filevault_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncUpload counts one upload with the given outcome.
func IncUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// AddStoredBytes records bytes written as new blobs.
func AddStoredBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.WithLabelValues("stored").Add(float64(n))
	}
}

// AddDeduplicatedBytes records bytes that were not stored again.
func AddDeduplicatedBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.WithLabelValues("deduplicated").Add(float64(n))
	}
}

// IncDelete counts one delete with the given outcome.
func IncDelete(outcome string) {
	deletesTotal.WithLabelValues(outcome).Inc()
}

// IncBlobReclaimed counts a physically removed blob.
func IncBlobReclaimed() {
	blobsReclaimedTotal.Inc()
}

// AddQuotaReleased records bytes credited back to a ledger.
func AddQuotaReleased(n int64) {
	if n > 0 {
		quotaReleaseTotal.Add(float64(n))
	}
}

// ObserveUploadDuration records how long an upload took.
func ObserveUploadDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	uploadDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
}

// Registry returns the registry backing this package's collectors.
func Registry() *prometheus.Registry {
	return registry
}
