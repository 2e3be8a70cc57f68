package registry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts registry traffic and limiter waits.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Throttled   prometheus.Counter
	LimiterWait prometheus.Histogram
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regscan_registry_requests_total",
			Help: "Registry requests by method and status code",
		}, []string{"method", "status"}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regscan_registry_throttled_total",
			Help: "Registry responses with status 429",
		}),
		LimiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regscan_limiter_wait_seconds",
			Help:    "Time spent waiting for the request rate limiter",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Throttled, m.LimiterWait)
	}
	return m
}

func (m *Metrics) observeRequest(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(method, label).Inc()
	if status == 429 {
		m.Throttled.Inc()
	}
}

func (m *Metrics) observeWait(seconds float64) {
	if m == nil {
		return
	}
	m.LimiterWait.Observe(seconds)
}
