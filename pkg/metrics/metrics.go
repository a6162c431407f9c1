package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster state
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_services_total",
			Help: "Total number of services",
		},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	// Scheduler
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Duration of reconciliation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_tasks_scheduled_total",
			Help: "Total number of tasks scheduled",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_tasks_failed_total",
			Help: "Total number of failed tasks",
		},
	)

	PlacementFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_placement_failures_total",
			Help: "Total number of task placements that found no eligible node",
		},
	)

	// Scrape engine
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_scrapes_total",
			Help: "Total number of scrape attempts by outcome",
		},
		[]string{"outcome"},
	)

	ScrapeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_scrape_duration_seconds",
			Help:    "Duration of target scrapes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TargetsDown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_scrape_targets_down",
			Help: "Number of scrape targets currently marked down",
		},
	)

	StoredSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_tsdb_samples",
			Help: "Number of samples currently held in the time-series store",
		},
	)

	// Alerting
	AlertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_alert_transitions_total",
			Help: "Total number of alert state transitions by target state",
		},
		[]string{"state"},
	)

	AlertsFiring = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_alerts_firing",
			Help: "Number of alert instances currently firing",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(PlacementFailures)
	prometheus.MustRegister(ScrapesTotal)
	prometheus.MustRegister(ScrapeDuration)
	prometheus.MustRegister(TargetsDown)
	prometheus.MustRegister(StoredSamples)
	prometheus.MustRegister(AlertTransitionsTotal)
	prometheus.MustRegister(AlertsFiring)
}

// Handler returns the Prometheus HTTP handler for the control plane's own
// /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
