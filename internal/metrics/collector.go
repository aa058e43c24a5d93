package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements events.Observer and gesture.Observer using Prometheus
type Collector struct {
	eventsEnqueued   *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	listenerFailures *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	shakesAccepted   prometheus.Counter
	signalsDropped   *prometheus.CounterVec
}

// NewCollector registers the bridge metrics on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		eventsEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbridge_events_enqueued_total",
				Help: "Total number of events accepted by the event queue",
			},
			[]string{"event"},
		),
		eventsDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbridge_events_dispatched_total",
				Help: "Total number of events dispatched to listeners",
			},
			[]string{"event"},
		),
		dispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devbridge_dispatch_duration_seconds",
				Help:    "Time spent delivering one event to all of its listeners",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"event"},
		),
		listenerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbridge_listener_failures_total",
				Help: "Total number of listener callbacks that returned an error or panicked",
			},
			[]string{"event"},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "devbridge_queue_depth",
				Help: "Events waiting to be dispatched",
			},
		),
		shakesAccepted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "devbridge_shakes_total",
				Help: "Total number of shake gestures accepted by the detector",
			},
		),
		signalsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbridge_signals_dropped_total",
				Help: "Raw motion signals that did not produce a shake",
			},
			[]string{"reason"},
		),
	}
}

func (c *Collector) EventEnqueued(name string) {
	c.eventsEnqueued.WithLabelValues(name).Inc()
}

func (c *Collector) EventDispatched(name string, listeners int, took time.Duration) {
	c.eventsDispatched.WithLabelValues(name).Inc()
	c.dispatchDuration.WithLabelValues(name).Observe(took.Seconds())
}

func (c *Collector) ListenerFailed(name string) {
	c.listenerFailures.WithLabelValues(name).Inc()
}

func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) ShakeAccepted() {
	c.shakesAccepted.Inc()
}

func (c *Collector) SignalDropped(reason string) {
	c.signalsDropped.WithLabelValues(reason).Inc()
}
