// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package metrics provides Prometheus instrumentation for the edge
// authentication service: filter decisions, ceremony outcomes, token
// issuance and HTTP request metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus namespace for all edgeauth metrics.
	Namespace = "edgeauth"

	// Label names
	LabelStage      = "stage"
	LabelOutcome    = "outcome"
	LabelCeremony   = "ceremony"
	LabelStatus     = "status"
	LabelRoute      = "route"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Filter outcomes
	OutcomeAllowed  = "allowed"
	OutcomeBlocked  = "blocked"
	OutcomeDegraded = "degraded"
)

var (
	// EdgeDecisionsTotal counts filter-chain decisions by stage and
	// outcome. Degraded means the stage's backing store failed and the
	// request was allowed through.
	EdgeDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "edge",
			Name:      "decisions_total",
			Help:      "Total number of edge filter decisions by stage and outcome",
		},
		[]string{LabelStage, LabelOutcome},
	)

	// CeremoniesTotal counts enrollment and authentication ceremony
	// finishes by outcome.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of ceremony completions by type and status",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// TokensIssuedTotal counts issued token pairs.
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of token pairs issued",
		},
	)

	// UpstreamRequestsTotal counts proxied requests by route and upstream
	// status code. Code 502 covers upstream connection failures.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of proxied requests by route and upstream status code",
		},
		[]string{LabelRoute, LabelStatusCode},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration observes HTTP request durations in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordEdgeDecision records a filter-chain decision.
func RecordEdgeDecision(stage, outcome string) {
	if !enabled.Load() {
		return
	}
	EdgeDecisionsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordCeremony records a ceremony finish by type ("enroll" or "authn")
// and status.
func RecordCeremony(ceremony string, success bool) {
	if !enabled.Load() {
		return
	}
	status := StatusError
	if success {
		status = StatusSuccess
	}
	CeremoniesTotal.WithLabelValues(ceremony, status).Inc()
}

// RecordTokensIssued records an issued token pair.
func RecordTokensIssued() {
	if !enabled.Load() {
		return
	}
	TokensIssuedTotal.Inc()
}

// RecordUpstreamRequest records a proxied request's upstream status.
func RecordUpstreamRequest(route string, statusCode int) {
	if !enabled.Load() {
		return
	}
	UpstreamRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration in seconds.
func RecordHTTPRequest(method string, statusCode int, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection. Useful in tests.
func Disable() {
	enabled.Store(false)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies for every request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		RecordHTTPRequest(r.Method, rec.status, time.Since(start).Seconds())
	})
}
