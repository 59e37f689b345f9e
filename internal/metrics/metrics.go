// Package metrics exposes Prometheus instrumentation for the event pipeline
// and the chat proxy.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "missionctl"

var (
	// eventsIngestedTotal counts events accepted by the ingest pipeline.
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of events accepted by the ingest pipeline",
		},
		[]string{"type"},
	)

	// eventsRejectedTotal counts events rejected by validation.
	eventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected by validation",
		},
		[]string{"type"},
	)

	// streamPublishErrorsTotal counts failed stream publishes. Publishes run
	// after commit, so each error is an event the feed has but live
	// subscribers missed.
	streamPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_publish_errors_total",
			Help:      "Total number of stream publishes that failed after commit",
		},
	)

	// subscribersActive gauges currently connected fan-out subscribers.
	subscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of currently connected event feed subscribers",
		},
	)

	// proxyRequestsTotal counts proxied chat HTTP requests.
	proxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of proxied chat HTTP requests",
		},
		[]string{"agent", "method", "status"},
	)

	// proxyUpstreamErrorsTotal counts upstream transport failures by class.
	proxyUpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_upstream_errors_total",
			Help:      "Total number of chat proxy upstream transport failures",
		},
		[]string{"agent", "error_type"},
	)

	// proxyWebsocketsActive gauges live proxied WebSocket pairs.
	proxyWebsocketsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_websockets_active",
			Help:      "Number of currently proxied chat WebSocket connections",
		},
	)

	// allMetrics is the list of collectors to register.
	allMetrics = []prometheus.Collector{
		eventsIngestedTotal,
		eventsRejectedTotal,
		streamPublishErrorsTotal,
		subscribersActive,
		proxyRequestsTotal,
		proxyUpstreamErrorsTotal,
		proxyWebsocketsActive,
	}

	registry = newRegistry()
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// EventAccepted records an event that passed validation.
func EventAccepted(eventType string) {
	eventsIngestedTotal.WithLabelValues(eventType).Inc()
}

// EventRejected records an event that failed validation.
func EventRejected(eventType string) {
	eventsRejectedTotal.WithLabelValues(eventType).Inc()
}

// StreamPublishError records a post-commit publish failure.
func StreamPublishError() {
	streamPublishErrorsTotal.Inc()
}

// SubscriberConnected tracks a new fan-out subscriber.
func SubscriberConnected() {
	subscribersActive.Inc()
}

// SubscriberDisconnected tracks a departed fan-out subscriber.
func SubscriberDisconnected() {
	subscribersActive.Dec()
}

// ProxyRequest records a completed proxied HTTP request.
func ProxyRequest(agent, method string, status int) {
	proxyRequestsTotal.WithLabelValues(agent, method, strconv.Itoa(status)).Inc()
}

// ProxyUpstreamError records an upstream transport failure by error class.
func ProxyUpstreamError(agent, errorType string) {
	proxyUpstreamErrorsTotal.WithLabelValues(agent, errorType).Inc()
}

// ProxyWebsocketOpened tracks a new proxied WebSocket pair.
func ProxyWebsocketOpened() {
	proxyWebsocketsActive.Inc()
}

// ProxyWebsocketClosed tracks a closed proxied WebSocket pair.
func ProxyWebsocketClosed() {
	proxyWebsocketsActive.Dec()
}
