package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge metrics
var (
	BridgeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameBridgeOperations,
			Help: HelpTextBridgeOperations,
		},
		[]string{LabelOperation, LabelOutcome},
	)

	BridgePending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameBridgePending,
			Help: HelpTextBridgePending,
		},
		[]string{LabelOperation},
	)

	BridgeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameBridgeLatency,
			Help:    HelpTextBridgeLatency,
			Buckets: CompletionLatencyBuckets,
		},
		[]string{LabelOperation},
	)

	IssuedTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameIssuedTokens,
			Help: HelpTextIssuedTokens,
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHTTPRequestsTotal,
			Help: HelpTextHTTPRequestsTotal,
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameHTTPRequestDuration,
			Help:    HelpTextHTTPRequestDuration,
			Buckets: HTTPLatencyBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameHTTPRequestsInFlight,
			Help: HelpTextHTTPRequestsInFlight,
		},
	)
)

// Event metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameEventsPublished,
			Help: HelpTextEventsPublished,
		},
		[]string{LabelType},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameEventsDropped,
			Help: HelpTextEventsDropped,
		},
		[]string{LabelType},
	)
)
