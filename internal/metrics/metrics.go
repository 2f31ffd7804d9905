// Package metrics holds the process-wide Prometheus collectors of the widget.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_polls_total",
			Help: "Total number of sync requests by result.",
		},
		[]string{"result"},
	)
	deltasAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_deltas_applied_total",
			Help: "Total number of delta items merged into local state.",
		},
		[]string{"kind"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Total number of message sends by result.",
		},
		[]string{"result"},
	)
	editsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_edits_total",
			Help: "Total number of message edits by result.",
		},
		[]string{"result"},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_uploads_total",
			Help: "Total number of selected files by result.",
		},
		[]string{"result"},
	)
	draftSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_draft_saves_total",
			Help: "Total number of remote draft saves by result.",
		},
		[]string{"result"},
	)
	syncCursorSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_sync_cursor_seconds",
			Help: "Server time of the last applied sync, as a unix timestamp.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		pollsTotal,
		deltasAppliedTotal,
		sendsTotal,
		editsTotal,
		uploadsTotal,
		draftSavesTotal,
		syncCursorSeconds,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Result labels.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
)

// HTTPMetricsMiddleware counts and times every request by route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncPoll(result string) {
	pollsTotal.WithLabelValues(result).Inc()
}

func AddDeltas(kind string, n int) {
	if n > 0 {
		deltasAppliedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

func IncSend(result string) {
	sendsTotal.WithLabelValues(result).Inc()
}

func IncEdit(result string) {
	editsTotal.WithLabelValues(result).Inc()
}

func IncUpload(result string) {
	uploadsTotal.WithLabelValues(result).Inc()
}

func IncDraftSave(result string) {
	draftSavesTotal.WithLabelValues(result).Inc()
}

// SetCursor records the sync cursor.
func SetCursor(t time.Time) {
	if !t.IsZero() {
		syncCursorSeconds.Set(float64(t.Unix()))
	}
}
