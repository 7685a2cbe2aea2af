package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// TriggerFired labels triggers dispatched to the orchestrator.
	TriggerFired = "fired"
	// TriggerDropped labels triggers dropped because a diagnosis was in flight.
	TriggerDropped = "dropped"
)

var (
	measurementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "measurements_total",
			Help:      "Total measurements submitted, partitioned by gateway outcome.",
		},
		[]string{"status"},
	)

	scoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "scores_total",
			Help:      "Total anomaly scores computed, partitioned by exceedance.",
		},
		[]string{"exceeded"},
	)

	triggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "triggers_total",
			Help:      "Trigger fires, partitioned by outcome (fired or dropped).",
		},
		[]string{"outcome"},
	)

	providerResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "provider_results_total",
			Help:      "Diagnosis provider results, partitioned by provider and status.",
		},
		[]string{"provider", "status"},
	)

	diagnosisSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "diagnosis_seconds",
			Help:      "End-to-end diagnosis orchestration latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"status"},
	)

	droppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "subscriber_events_dropped_total",
			Help:      "Events dropped from slow subscriber queues (drop-oldest policy).",
		},
	)
)

// Register attaches all collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		measurementsTotal,
		scoresTotal,
		triggersTotal,
		providerResultsTotal,
		diagnosisSeconds,
		droppedEventsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// CountMeasurement records one gateway outcome.
func CountMeasurement(status string) {
	measurementsTotal.WithLabelValues(status).Inc()
}

// CountScore records one computed anomaly score.
func CountScore(exceeded bool) {
	label := "false"
	if exceeded {
		label = "true"
	}
	scoresTotal.WithLabelValues(label).Inc()
}

// CountTrigger records a fired or dropped trigger.
func CountTrigger(outcome string) {
	triggersTotal.WithLabelValues(outcome).Inc()
}

// CountProviderResult records one provider outcome.
func CountProviderResult(provider, status string) {
	providerResultsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveDiagnosis records one orchestration duration and terminal status.
func ObserveDiagnosis(duration time.Duration, status string) {
	if duration < 0 {
		duration = 0
	}
	diagnosisSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// CountDroppedEvent records one event evicted from a subscriber queue.
func CountDroppedEvent() {
	droppedEventsTotal.Inc()
}
