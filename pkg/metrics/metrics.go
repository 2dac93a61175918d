package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/mqprovider/pkg/queue"
)

const (
	Namespace = "mqprovider"

	Messages = "messages"
	Consumer = "consumer"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple instances.
type Labels struct {
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

// Metrics records provider events as Prometheus metrics. It implements
// queue.Observer; a nil *Metrics ignores every event.
type Metrics struct {
	// Publish side
	messagesSent   *prometheus.CounterVec   // by provider, priority, destination
	sendDuration   *prometheus.HistogramVec // by provider
	encodeFailures *prometheus.CounterVec   // by provider

	// Consume side
	messagesReceived *prometheus.CounterVec   // by provider, priority, destination
	deliveryLatency  *prometheus.HistogramVec // by provider
	clockSkewed      *prometheus.CounterVec   // by provider
	routed           *prometheus.CounterVec   // by provider, handled_by
	emptyPolls       *prometheus.CounterVec   // by provider
	parseFailures    *prometheus.CounterVec   // by provider
	cancellations    *prometheus.CounterVec   // by provider

	// Provider lifecycle
	errors *prometheus.CounterVec // by provider, op
	open   *prometheus.GaugeVec   // by provider
}

var _ queue.Observer = (*Metrics)(nil)

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Messages,
			Name:      "sent_total",
			Help:      "Total messages accepted by the transport",
		}, []string{"provider", "priority", "destination"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Messages,
			Name:      "send_duration_seconds",
			Help:      "Time for the transport to accept a message",
			// Buckets cover 1ms to 10s
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		encodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Messages,
			Name:      "encode_failures_total",
			Help:      "Messages rejected before reaching the transport because they could not be encoded",
		}, []string{"provider"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Messages,
			Name:      "received_total",
			Help:      "Total messages received and parsed",
		}, []string{"provider", "priority", "destination"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Messages,
			Name:      "delivery_latency_seconds",
			Help:      "Time between the producer stamping a message and the consumer receiving it",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		clockSkewed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Messages,
			Name:      "clock_skewed_total",
			Help:      "Messages received with a negative elapsed time",
		}, []string{"provider"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "routed_total",
			Help:      "Total routing decisions by handler",
		}, []string{"provider", "handled_by"}),
		emptyPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "empty_polls_total",
			Help:      "Receives that timed out without a message",
		}, []string{"provider"}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "parse_failures_total",
			Help:      "Messages that could not be parsed",
		}, []string{"provider"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "cancellations_total",
			Help:      "Consume operations ended by cancellation",
		}, []string{"provider"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Transport errors by operation",
		}, []string{"provider", "op"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "provider_open",
			Help:      "1 while the provider holds open transport handles",
		}, []string{"provider"}),
	}

	err := errors.Join(
		reg.Register(m.messagesSent),
		reg.Register(m.sendDuration),
		reg.Register(m.encodeFailures),
		reg.Register(m.messagesReceived),
		reg.Register(m.deliveryLatency),
		reg.Register(m.clockSkewed),
		reg.Register(m.routed),
		reg.Register(m.emptyPolls),
		reg.Register(m.parseFailures),
		reg.Register(m.cancellations),
		reg.Register(m.errors),
		reg.Register(m.open),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// OnEvent updates the metrics for one provider event.
func (m *Metrics) OnEvent(e queue.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case queue.EventOpened:
		m.open.WithLabelValues(e.Provider).Set(1)
	case queue.EventClosed:
		m.open.WithLabelValues(e.Provider).Set(0)
	case queue.EventSent:
		if e.Envelope != nil {
			m.messagesSent.WithLabelValues(e.Provider, e.Envelope.Priority.String(), e.Envelope.Destination.String()).Inc()
		}
		m.sendDuration.WithLabelValues(e.Provider).Observe(e.Duration.Seconds())
	case queue.EventEncodeFailed:
		m.encodeFailures.WithLabelValues(e.Provider).Inc()
	case queue.EventReceived:
		if e.Envelope == nil {
			return
		}
		m.messagesReceived.WithLabelValues(e.Provider, e.Envelope.Priority.String(), e.Envelope.Destination.String()).Inc()
		if e.Envelope.ClockSkewed() {
			m.clockSkewed.WithLabelValues(e.Provider).Inc()
			return
		}
		if elapsed, ok := e.Envelope.Elapsed(); ok {
			m.deliveryLatency.WithLabelValues(e.Provider).Observe(elapsed.Seconds())
		}
	case queue.EventRouted:
		if e.Decision != nil {
			m.routed.WithLabelValues(e.Provider, e.Decision.HandledBy).Inc()
		}
	case queue.EventEmpty:
		m.emptyPolls.WithLabelValues(e.Provider).Inc()
	case queue.EventParseFailed:
		m.parseFailures.WithLabelValues(e.Provider).Inc()
	case queue.EventCancelled:
		m.cancellations.WithLabelValues(e.Provider).Inc()
	case queue.EventError:
		m.errors.WithLabelValues(e.Provider, string(e.Op)).Inc()
	}
}
