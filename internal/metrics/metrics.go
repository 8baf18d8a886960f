// Package metrics holds the Prometheus collectors shared by the API and worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QueuePublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_jobs_published_total", Help: "Jobs published to the delay queue"},
		[]string{"backend"},
	)
	QueueDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_deliveries_total", Help: "Delay queue callback deliveries"},
		[]string{"outcome"},
	)
	QueueReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_jobs_reaped_total", Help: "Claimed jobs returned after their visibility timeout"},
	)

	MessagesDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatcher_messages_total", Help: "Message dispatch attempts by outcome"},
		[]string{"outcome"},
	)
	AdvancerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "advancer_runs_total", Help: "Batch advancer invocations by outcome"},
		[]string{"outcome"},
	)
	CampaignTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_transitions_total", Help: "Campaign status changes"},
		[]string{"status"},
	)
	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "WhatsApp gateway request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		QueuePublishedTotal, QueueDeliveriesTotal, QueueReapedTotal,
		MessagesDispatchedTotal, AdvancerRunsTotal, CampaignTransitionsTotal,
		GatewayRequestDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
