// Package metrics provides the Prometheus instrumentation shared by oauth2client and httpclient.
//
// A nil *Recorder is valid and records nothing, so components can call it unconditionally.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apiclient"

// Recorder holds the counters and histograms emitted by the client.
type Recorder struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	tokenExchanges  *prometheus.CounterVec
	invalidations   prometheus.Counter
}

// NewRecorder creates a Recorder and registers its collectors with reg.
// If reg is nil, the collectors are created but not registered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP attempts issued by the client, by method and status code.",
		}, []string{"method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of individual HTTP attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_retries_total",
			Help:      "Requests retried after a 401 with a freshly obtained token.",
		}, []string{"method"}),
		tokenExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "OAuth2 client-credentials exchanges against the token endpoint, by result.",
		}, []string{"result"}),
		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_invalidations_total",
			Help:      "Cached tokens removed after invalidation.",
		}),
	}
}

// ObserveRequest records one HTTP attempt. A zero code means the attempt failed before a response.
func (r *Recorder) ObserveRequest(method string, code int, seconds float64) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, codeLabel(code)).Inc()
	r.requestDuration.WithLabelValues(method).Observe(seconds)
}

// IncRetry records a retry after an unauthorized response.
func (r *Recorder) IncRetry(method string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(method).Inc()
}

// IncTokenExchange records a token exchange; ok reports whether it succeeded.
func (r *Recorder) IncTokenExchange(ok bool) {
	if r == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	r.tokenExchanges.WithLabelValues(result).Inc()
}

// IncInvalidation records a token invalidation.
func (r *Recorder) IncInvalidation() {
	if r == nil {
		return
	}
	r.invalidations.Inc()
}

func codeLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
