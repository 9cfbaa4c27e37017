package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the netchunk engine.
type Metrics struct {
	// Operation metrics
	OperationsTotal        *prometheus.CounterVec
	OperationsActive       prometheus.Gauge
	OperationDuration      *prometheus.HistogramVec
	BytesTransferredTotal  *prometheus.CounterVec
	ChunksPlacedTotal      prometheus.Counter
	ChunksReadTotal        prometheus.Counter
	ChunkRetriesTotal      *prometheus.CounterVec

	// Placement/replication metrics
	ReplicasAchievedTotal     *prometheus.CounterVec
	ServerPutsTotal           *prometheus.CounterVec
	ServerAvailable           *prometheus.GaugeVec
	ServerChunkCount          *prometheus.GaugeVec

	// Integrity metrics
	IntegrityChecksTotal  *prometheus.CounterVec
	ChunkHealthGauge      *prometheus.GaugeVec

	// Repair metrics
	RepairRunsTotal       *prometheus.CounterVec
	RepairDuration        prometheus.Histogram
	ChunksRepairedTotal   prometheus.Counter

	// Local cache/journal metrics
	CacheOperationsTotal    *prometheus.CounterVec
	JournalOperationsTotal  *prometheus.CounterVec

	activeOperations int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_operations_total",
				Help: "Total engine operations initiated, by verb and outcome",
			},
			[]string{"verb", "status"},
		),

		OperationsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "netchunk_operations_active",
				Help: "Currently active engine operations",
			},
		),

		OperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netchunk_operation_duration_seconds",
				Help:    "Operation completion time distribution, by verb",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"verb"},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_bytes_transferred_total",
				Help: "Total bytes transferred, by direction",
			},
			[]string{"direction"},
		),

		ChunksPlacedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "netchunk_chunks_placed_total",
				Help: "Total chunk replicas successfully placed",
			},
		),

		ChunksReadTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "netchunk_chunks_read_total",
				Help: "Total chunk replicas successfully read back",
			},
		),

		ChunkRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_chunk_retries_total",
				Help: "Chunk operations requiring a retry, by reason",
			},
			[]string{"reason"},
		),

		ReplicasAchievedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_replicas_achieved_total",
				Help: "Chunk placements, bucketed by whether full replication was achieved",
			},
			[]string{"degraded"},
		),

		ServerPutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_server_puts_total",
				Help: "BlobStore put attempts per server, by result",
			},
			[]string{"server_id", "result"},
		),

		ServerAvailable: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netchunk_server_available",
				Help: "Last-known server availability (0/1)",
			},
			[]string{"server_id"},
		),

		ServerChunkCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netchunk_server_chunk_count",
				Help: "Chunks currently placed on a server, for the most recently placed manifest",
			},
			[]string{"server_id"},
		),

		IntegrityChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_integrity_checks_total",
				Help: "Chunk integrity checks performed, by result",
			},
			[]string{"result"},
		),

		ChunkHealthGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netchunk_chunks_by_health",
				Help: "Chunks observed in the most recent verify/repair pass, by health classification",
			},
			[]string{"classification"},
		),

		RepairRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_repair_runs_total",
				Help: "Repair passes run, by mode and outcome",
			},
			[]string{"mode", "result"},
		),

		RepairDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netchunk_repair_duration_seconds",
				Help:    "Repair pass latency",
				Buckets: []float64{0.1, 1, 5, 10, 30, 60, 300, 900},
			},
		),

		ChunksRepairedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "netchunk_chunks_repaired_total",
				Help: "Chunk replicas recreated by repair",
			},
		),

		CacheOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_cache_operations_total",
				Help: "bbolt-backed manifest cache operations, by op and result",
			},
			[]string{"op", "result"},
		),

		JournalOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netchunk_journal_operations_total",
				Help: "SQLite operation journal writes, by verb",
			},
			[]string{"verb"},
		),
	}

	return m
}

// RecordOperationStart increments the active-operations gauge.
func (m *Metrics) RecordOperationStart() {
	atomic.AddInt64(&m.activeOperations, 1)
	m.OperationsActive.Set(float64(atomic.LoadInt64(&m.activeOperations)))
}

// RecordOperationComplete records operation completion metrics.
func (m *Metrics) RecordOperationComplete(verb string, success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeOperations, -1)
	m.OperationsActive.Set(float64(atomic.LoadInt64(&m.activeOperations)))

	status := "success"
	if !success {
		status = "failure"
	}

	m.OperationsTotal.WithLabelValues(verb, status).Inc()
	m.OperationDuration.WithLabelValues(verb).Observe(durationSeconds)
}

// RecordChunkPlaced updates metrics for a successfully placed chunk replica.
func (m *Metrics) RecordChunkPlaced(bytes int) {
	m.ChunksPlacedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("upload").Add(float64(bytes))
}

// RecordChunkRead updates metrics for a successfully read chunk replica.
func (m *Metrics) RecordChunkRead(bytes int) {
	m.ChunksReadTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("download").Add(float64(bytes))
}

// RecordChunkRetry increments retry counters.
func (m *Metrics) RecordChunkRetry(reason string) {
	m.ChunkRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordReplication records whether a chunk achieved full replication.
func (m *Metrics) RecordReplication(degraded bool) {
	label := "false"
	if degraded {
		label = "true"
	}
	m.ReplicasAchievedTotal.WithLabelValues(label).Inc()
}

// RecordServerPut records the outcome of one BlobStore.put attempt.
func (m *Metrics) RecordServerPut(serverID string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ServerPutsTotal.WithLabelValues(serverID, result).Inc()
}

// SetServerAvailable reflects the registry's last health probe.
func (m *Metrics) SetServerAvailable(serverID string, available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	m.ServerAvailable.WithLabelValues(serverID).Set(v)
}

// RecordIntegrityCheck records the outcome of one chunk hash verification.
func (m *Metrics) RecordIntegrityCheck(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.IntegrityChecksTotal.WithLabelValues(result).Inc()
}

// SetChunkHealthCounts publishes the health-classification histogram for
// the most recent verify/repair pass.
func (m *Metrics) SetChunkHealthCounts(healthy, degraded, critical, lost int) {
	m.ChunkHealthGauge.WithLabelValues("healthy").Set(float64(healthy))
	m.ChunkHealthGauge.WithLabelValues("degraded").Set(float64(degraded))
	m.ChunkHealthGauge.WithLabelValues("critical").Set(float64(critical))
	m.ChunkHealthGauge.WithLabelValues("lost").Set(float64(lost))
}

// RecordRepairRun records one completed repair pass.
func (m *Metrics) RecordRepairRun(mode string, success bool, durationSeconds float64, chunksRepaired int) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.RepairRunsTotal.WithLabelValues(mode, result).Inc()
	m.RepairDuration.Observe(durationSeconds)
	m.ChunksRepairedTotal.Add(float64(chunksRepaired))
}

// RecordCacheOp records one bbolt manifest-cache operation.
func (m *Metrics) RecordCacheOp(op string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.CacheOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordJournalOp records one SQLite journal write.
func (m *Metrics) RecordJournalOp(verb string) {
	m.JournalOperationsTotal.WithLabelValues(verb).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
