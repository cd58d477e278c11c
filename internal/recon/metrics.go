package recon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus scan metrics.
var (
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayscan_scans_total",
			Help: "Scan runs by final status.",
		},
		[]string{"status"},
	)
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayscan_scan_duration_seconds",
			Help:    "Wall time of completed scan runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayscan_probes_total",
			Help: "Device probes by outcome.",
		},
		[]string{"outcome"},
	)
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayscan_snapshots_total",
			Help: "Snapshots written by diff status.",
		},
		[]string{"diff_status"},
	)
	persistenceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayscan_device_persistence_errors_total",
			Help: "Devices skipped during reconciliation because a write failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(scansTotal, scanDuration, probesTotal, snapshotsTotal, persistenceErrorsTotal)
}

// probeOutcome labels a probe result for probesTotal.
func probeOutcome(online, recognized, timedOut bool) string {
	switch {
	case online && recognized:
		return "recognized"
	case online:
		return "unrecognized"
	case timedOut:
		return "timeout"
	default:
		return "offline"
	}
}
