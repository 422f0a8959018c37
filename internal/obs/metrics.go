package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	PaymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment status transitions applied, by source and new status",
		},
		[]string{"source", "status"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions committed",
		},
		[]string{"status"},
	)

	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Latency of calls to the payment gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	StatusResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_resolutions_total",
			Help: "Status resolutions by the tier that answered",
		},
		[]string{"tier"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Webhook notifications by outcome (enqueued, dropped, processed, failed)",
		},
		[]string{"outcome"},
	)

	NotificationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_notification_queue_depth",
			Help: "Notifications waiting in the local dispatcher",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentTransitionsTotal,
		OrderTransitionsTotal,
		GatewayCallDuration,
		StatusResolutions,
		NotificationsTotal,
		NotificationQueueDepth,
	)
}
