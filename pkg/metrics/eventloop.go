// Package metrics exposes Prometheus collectors for ipcpd's control-plane
// components. Every metrics struct is nil-safe — a nil *EventLoopMetrics
// (the zero value of an unconfigured dependency) makes every recording
// method a no-op — grounded on the teacher's
// internal/protocol/nfs/v4/state session/delegation/sequence metrics, which
// follow the same nil-receiver convention so call sites never need a
// "metrics enabled" branch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventLoopMetrics instruments pkg/eventloop: iteration latency and the
// number of in-flight issue_request waiters (SPEC_FULL.md §4.1).
type EventLoopMetrics struct {
	IterationLatency prometheus.Histogram
	InFlightRequests prometheus.Gauge
	FDCallbacks      prometheus.Gauge
	TimersPending    prometheus.Gauge
}

// NewEventLoopMetrics creates and, if reg is non-nil, registers the loop's
// collectors. Passing a nil Registerer (as tests do) yields working
// collectors that are simply never scraped.
func NewEventLoopMetrics(reg prometheus.Registerer) *EventLoopMetrics {
	m := &EventLoopMetrics{
		IterationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ipcpd",
			Subsystem: "eventloop",
			Name:      "iteration_seconds",
			Help:      "Wall-clock duration of one event loop iteration (poll wait + dispatch).",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		InFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcpd",
			Subsystem: "eventloop",
			Name:      "inflight_requests",
			Help:      "Number of issue_request callers currently awaiting a kernel response.",
		}),
		FDCallbacks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcpd",
			Subsystem: "eventloop",
			Name:      "fd_callbacks",
			Help:      "Number of file descriptors currently registered with the event loop.",
		}),
		TimersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipcpd",
			Subsystem: "eventloop",
			Name:      "timers_pending",
			Help:      "Number of scheduled timers not yet fired or cancelled.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.IterationLatency, m.InFlightRequests, m.FDCallbacks, m.TimersPending} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}

	return m
}

// ObserveIteration records one loop iteration's wall-clock duration.
func (m *EventLoopMetrics) ObserveIteration(seconds float64) {
	if m == nil {
		return
	}
	m.IterationLatency.Observe(seconds)
}

// SetInFlight reports the current number of outstanding issue_request callers.
func (m *EventLoopMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlightRequests.Set(float64(n))
}

// SetFDCallbacks reports the current number of registered fd callbacks.
func (m *EventLoopMetrics) SetFDCallbacks(n int) {
	if m == nil {
		return
	}
	m.FDCallbacks.Set(float64(n))
}

// SetTimersPending reports the current number of live scheduled timers.
func (m *EventLoopMetrics) SetTimersPending(n int) {
	if m == nil {
		return
	}
	m.TimersPending.Set(float64(n))
}
