// Package telemetry defines the Prometheus metrics every sync component
// emits, registered once against the default registry at process startup.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// CommitsTotal counts successful merge-engine commits, labeled by the
	// path that produced them ("create", "equal", "before", "concurrent").
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_commits_total",
			Help: "Total number of operations successfully committed to the version store.",
		},
		[]string{"relation"},
	)

	// ConflictsManualTotal counts opaque-field conflicts routed to the
	// manual resolver.
	ConflictsManualTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_conflicts_manual_total",
			Help: "Total number of manual-resolver conflicts recorded.",
		},
		[]string{"record_type", "field"},
	)

	// RejectsStaleTotal counts pushes rejected as stale_base: the base vector
	// dominates the current record's, or an update targets a missing record.
	RejectsStaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_rejects_stale_total",
			Help: "Total number of pushes rejected as stale_base.",
		},
		[]string{"record_type"},
	)

	// BroadcastFailuresTotal counts outbound frames of any kind that could
	// not be queued for a session (reason "outbound_buffer_full").
	BroadcastFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_broadcast_failures_total",
			Help: "Total number of failed broadcast deliveries to a live session.",
		},
		[]string{"reason"},
	)

	// ReorderDropsTotal counts ops dropped from a session's reorder buffer,
	// forcing that session back to CATCHING_UP.
	ReorderDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_reorder_drops_total",
			Help: "Total number of reorder-buffer overflows that forced a session back to CATCHING_UP.",
		},
		[]string{"owner_id"},
	)

	// QueueDepth is the current number of pending entries per device in the
	// offline queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncd_queue_depth",
			Help: "Current number of pending offline-queue entries for a device.",
		},
		[]string{"device_id"},
	)

	// CommitLatency measures time spent in the merge-and-commit path.
	CommitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_commit_latency_seconds",
			Help:    "Latency of merging and committing one operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"record_type"},
	)

	// BroadcastLatency measures time from commit to successful DELIVER ack
	// for a live session.
	BroadcastLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_broadcast_latency_seconds",
			Help:    "Latency from commit to acknowledged delivery for a live session.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"owner_id"},
	)

	// ReconnectGap measures wall-clock time a device spent disconnected
	// before its next successful HELLO.
	ReconnectGap = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_reconnect_gap_seconds",
			Help:    "Time a device spent disconnected before reconnecting.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"device_id"},
	)

	// ArchivedRecordsTotal counts records swept out of the hot store and
	// written to cold storage after their grace window elapsed.
	ArchivedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_archived_records_total",
			Help: "Total number of tombstoned or conflicted records archived and removed from the version store.",
		},
		[]string{"record_type"},
	)
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		ConflictsManualTotal,
		RejectsStaleTotal,
		BroadcastFailuresTotal,
		ReorderDropsTotal,
		QueueDepth,
		CommitLatency,
		BroadcastLatency,
		ReconnectGap,
		ArchivedRecordsTotal,
	)
}
