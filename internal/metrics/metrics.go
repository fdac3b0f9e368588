package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zcipc"

var (
	samplesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "samples_sent_total",
			Help:      "Count of samples a publisher delivered, per recipient.",
		},
		[]string{"service"},
	)
	deliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "delivery_failures_total",
			Help:      "Count of samples that could not be delivered to a subscriber.",
		},
		[]string{"service", "reason"},
	)
	samplesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "samples_received_total",
			Help:      "Count of samples a subscriber received.",
		},
		[]string{"service"},
	)
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Count of events a listener received.",
		},
		[]string{"service"},
	)
)

// Registry holds every zcipc collector.
var Registry = prometheus.NewRegistry()

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(samplesSent)
		Registry.MustRegister(deliveryFailures)
		Registry.MustRegister(samplesReceived)
		Registry.MustRegister(eventsReceived)
	})
}

// RecordSamplesSent counts a sample delivered to n subscribers.
func RecordSamplesSent(service string, n int) {
	samplesSent.WithLabelValues(service).Add(float64(n))
}

// RecordDeliveryFailure counts a sample dropped for one subscriber.
func RecordDeliveryFailure(service, reason string) {
	deliveryFailures.WithLabelValues(service, reason).Inc()
}

// RecordSampleReceived counts one received sample.
func RecordSampleReceived(service string) {
	samplesReceived.WithLabelValues(service).Inc()
}

// RecordEvents counts n received events.
func RecordEvents(service string, n int) {
	eventsReceived.WithLabelValues(service).Add(float64(n))
}
