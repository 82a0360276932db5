// Package metrics exposes Prometheus collectors for the HTTP surface, the
// upload pipeline, the feed, and the chat channel.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starryvlog_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	UploadsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starryvlog_uploads_completed_total",
			Help: "Total number of uploads that reached the complete stage",
		},
	)

	UploadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starryvlog_upload_failures_total",
			Help: "Total number of uploads that failed, by stage",
		},
		[]string{"stage"},
	)

	// UploadDegradations counts absorbed failures: missing thumbnails and
	// thumbnail blob writes that were dropped.
	UploadDegradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starryvlog_upload_degradations_total",
			Help: "Total number of non-fatal upload step failures, by stage",
		},
		[]string{"stage"},
	)

	OrphanedBlobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starryvlog_orphaned_blobs_total",
			Help: "Video blobs left behind by a failed metadata write",
		},
	)

	CompressionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starryvlog_compression_outcomes_total",
			Help: "Compression policy decisions, by outcome",
		},
		[]string{"outcome"},
	)

	TranscoderBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starryvlog_transcoder_breaker_state",
			Help: "Transcoder circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	FeedLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starryvlog_feed_load_duration_seconds",
			Help:    "Duration of feed aggregation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SignedURLFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starryvlog_signed_url_failures_total",
			Help: "Signed URL requests that failed during feed aggregation",
		},
	)

	LikeToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starryvlog_like_toggles_total",
			Help: "Like toggles, by result",
		},
		[]string{"result"},
	)

	ChatReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starryvlog_chat_reloads_total",
			Help: "Chat reloads, by result (applied, superseded, error)",
		},
		[]string{"result"},
	)

	ExpiredMessagesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starryvlog_expired_messages_reaped_total",
			Help: "Chat messages permanently deleted after expiry",
		},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starryvlog_realtime_clients",
			Help: "Currently connected websocket clients",
		},
	)
)

// ObserveHTTPRequest records a completed request.
func ObserveHTTPRequest(method string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(duration.Seconds())
}
