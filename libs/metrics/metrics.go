package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolInvocations counts booking tool calls by tool and outcome.
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_agent_tool_invocations_total",
			Help: "Booking tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// SchedulingRequestDuration observes outbound scheduling API latency.
	SchedulingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_agent_scheduling_request_duration_seconds",
			Help:    "Latency of scheduling API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	ActiveAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_agent_active_agents",
			Help: "AI agents currently attached to a call",
		},
	)

	CallSetupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_agent_call_setup_failures_total",
			Help: "Agent spawns aborted during call setup",
		},
		[]string{"reason"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_agent_http_requests_total",
			Help: "Backend HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordTool records one tool invocation outcome.
func RecordTool(tool, outcome string) {
	ToolInvocations.WithLabelValues(tool, outcome).Inc()
}

// ObserveScheduling records how long a scheduling API operation took.
func ObserveScheduling(operation, outcome string, started time.Time) {
	SchedulingRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Middleware counts requests; route should be a low-cardinality pattern.
func Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			HTTPRequests.WithLabelValues(r.Method, route(r), strconv.Itoa(rw.status)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
