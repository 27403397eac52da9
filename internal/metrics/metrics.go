package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "logpipe_"

var acceptedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "ingest_accepted_total",
		Help: "Number of log records accepted and enqueued by the gateway",
	},
	[]string{"source"},
)

var rejectedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "ingest_rejected_total",
		Help: "Number of log records rejected by the gateway",
	},
	[]string{"category"},
)

var processedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "worker_processed_total",
		Help: "Number of deliveries processed by the worker, by outcome",
	},
	[]string{"outcome"},
)

var redeliveryCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "worker_redeliveries_total",
		Help: "Number of deliveries seen with an attempt count greater than one",
	},
)

var processingTimeHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "worker_transform_seconds",
		Help:    "Time spent transforming one log record",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
)

// Worker outcomes.
const (
	OutcomeWritten   = "written"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

func RecordAccepted(source string) {
	acceptedCounter.WithLabelValues(source).Inc()
}

func RecordRejected(category string) {
	rejectedCounter.WithLabelValues(category).Inc()
}

func RecordProcessed(outcome string) {
	processedCounter.WithLabelValues(outcome).Inc()
}

// RecordDelivery counts redeliveries. Attempts of zero mean the backend
// does not report them.
func RecordDelivery(attempt int) {
	if attempt > 1 {
		redeliveryCounter.Inc()
	}
}

func RecordTransformTime(d time.Duration) {
	processingTimeHist.Observe(d.Seconds())
}
