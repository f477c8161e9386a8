package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "couchrepl"

// Counters.
var (
	//nolint:gochecknoglobals
	replicationsSucceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "replications_succeeded_total",
		Help:      "Total number of databases replicated successfully.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	replicationsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "replications_failed_total",
		Help:      "Total number of databases that failed to replicate.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	transientRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "replication_transient_retries_total",
		Help:      "Total number of replication attempts retried after a transient error.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	continuousSetupFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "continuous_setup_failed_total",
		Help:      "Total number of continuous replication setups that failed after a successful one-shot.",
		Namespace: metricNamespace,
	})
)

// Gauges.
var (
	//nolint:gochecknoglobals
	replicationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "replications_active",
		Help:      "Number of replication jobs currently running.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	databasesSelected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "databases_selected",
		Help:      "Number of databases selected for this run.",
		Namespace: metricNamespace,
	})
)

//nolint:gochecknoglobals
var replicationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:      "replication_duration_seconds",
	Help:      "Duration of one-shot database replications in seconds.",
	Namespace: metricNamespace,
	Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 43200},
})

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		replicationsSucceededTotal,
		replicationsFailedTotal,
		transientRetriesTotal,
		continuousSetupFailedTotal,

		replicationsActive,
		databasesSelected,

		replicationDurationSeconds,
	)
}

// IncReplicationsSucceeded increments the succeeded replications counter.
func IncReplicationsSucceeded() {
	replicationsSucceededTotal.Inc()
}

// IncReplicationsFailed increments the failed replications counter.
func IncReplicationsFailed() {
	replicationsFailedTotal.Inc()
}

// IncTransientRetries increments the transient retry counter.
func IncTransientRetries() {
	transientRetriesTotal.Inc()
}

// IncContinuousSetupFailed increments the continuous-setup failure counter.
func IncContinuousSetupFailed() {
	continuousSetupFailedTotal.Inc()
}

// SetReplicationsActive sets the number of currently running jobs.
func SetReplicationsActive(v int) {
	replicationsActive.Set(float64(v))
}

// SetDatabasesSelected sets the size of the selection set.
func SetDatabasesSelected(v int) {
	databasesSelected.Set(float64(v))
}

// ObserveReplicationDuration records how long a one-shot replication took.
func ObserveReplicationDuration(dur time.Duration) {
	replicationDurationSeconds.Observe(dur.Seconds())
}
