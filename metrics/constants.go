package metrics

// Metric names
const (
	MetricNameBridgeOperations     = "statsbridge_operations_total"
	MetricNameBridgePending        = "statsbridge_pending_completions"
	MetricNameBridgeLatency        = "statsbridge_completion_seconds"
	MetricNameIssuedTokens         = "statsbridge_issued_tokens"
	MetricNameHTTPRequestsTotal    = "statsbridge_http_requests_total"
	MetricNameHTTPRequestDuration  = "statsbridge_http_request_duration_seconds"
	MetricNameHTTPRequestsInFlight = "statsbridge_http_requests_in_flight"
	MetricNameEventsPublished      = "statsbridge_events_published_total"
	MetricNameEventsDropped        = "statsbridge_events_dropped_total"
)

// Help text
const (
	HelpTextBridgeOperations     = "Facade operations by name and outcome"
	HelpTextBridgePending        = "Native callbacks currently awaited"
	HelpTextBridgeLatency        = "Time between native call and callback delivery"
	HelpTextIssuedTokens         = "Leaderboard tokens live in the registry"
	HelpTextHTTPRequestsTotal    = "Total number of HTTP requests"
	HelpTextHTTPRequestDuration  = "HTTP request latency in seconds"
	HelpTextHTTPRequestsInFlight = "Current number of HTTP requests being served"
	HelpTextEventsPublished      = "Events published on the event bus"
	HelpTextEventsDropped        = "Events dropped because a queue was full"
)

// Labels
const (
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelStatus    = "status"
	LabelType      = "type"
)

// Outcomes
const (
	OutcomeOK           = "ok"
	OutcomeAbsent       = "absent"
	OutcomeAbandoned    = "abandoned"
	OutcomeInvalidToken = "invalid_token"
)

var (
	CompletionLatencyBuckets = []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	HTTPLatencyBuckets       = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
)
