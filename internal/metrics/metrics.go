package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"miszen/internal/dispatcher"
)

const namespace = "miszen"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	CommandsExecuted *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	EventsProcessed  *prometheus.CounterVec
	EventDuration    prometheus.Histogram
	QueueDepth       prometheus.GaugeFunc
	IngressMessages  *prometheus.CounterVec
}

// New registers every collector. queueDepth is sampled on scrape and may be
// nil when no dispatcher exists.
func New(queueDepth func() int) *Metrics {
	if queueDepth == nil {
		queueDepth = func() int { return 0 }
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CommandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_executed_total",
				Help:      "Total number of zen commands executed",
			},
			[]string{"command", "status"},
		),

		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Zen command execution time in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"command"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_processed_total",
				Help:      "Total number of events processed by the dispatcher",
			},
			[]string{"event_type", "status"},
		),

		EventDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_processing_seconds",
				Help:      "Time spent routing one event, including its commands",
				Buckets:   prometheus.DefBuckets,
			},
		),

		QueueDepth: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "queue_depth",
				Help:      "Events waiting for the dispatcher worker",
			},
			func() float64 { return float64(queueDepth()) },
		),

		IngressMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingress",
				Name:      "messages_total",
				Help:      "Events received from ingress sources",
			},
			[]string{"source", "status"},
		),
	}

	m.registry.MustRegister(
		m.CommandsExecuted,
		m.CommandDuration,
		m.EventsProcessed,
		m.EventDuration,
		m.QueueDepth,
		m.IngressMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// PostProcessor is registered with dispatcher.AddPostProcessor.
func (m *Metrics) PostProcessor(result dispatcher.ProcessingResult) {
	m.EventsProcessed.WithLabelValues(result.Event.Type, status(result.Success)).Inc()
	m.EventDuration.Observe(result.ProcessingTime.Seconds())

	for _, res := range result.CommandResults {
		m.CommandsExecuted.WithLabelValues(res.Command, status(res.Success)).Inc()
		m.CommandDuration.WithLabelValues(res.Command).Observe(res.ExecutionTime.Seconds())
	}
}

// IngressReceived counts one ingress message. accepted is false when the
// message was malformed or the dispatcher dropped it.
func (m *Metrics) IngressReceived(source string, accepted bool) {
	label := "accepted"
	if !accepted {
		label = "rejected"
	}
	m.IngressMessages.WithLabelValues(source, label).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
