package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "depositgate"

var (
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Notification messages accepted by the transport.",
	})

	NotificationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_retries_total",
		Help:      "Failed notification attempts moved back to the queue tail.",
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped after exhausting the retry budget.",
	})

	NotificationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_skipped_total",
		Help:      "Queued transactions decided or removed before sending.",
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_length",
		Help:      "Transactions waiting in the dispatch queue.",
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Operator decisions by action and outcome.",
	}, []string{"action", "outcome"})

	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_compensations_total",
		Help:      "Reversing balance adjustments by result.",
	}, []string{"result"})

	Alerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ops_alerts_total",
		Help:      "Alerts raised to the operations channel.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})
)
