package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending ledger.
type Metrics struct {
	// --- Pool operations ---
	OperationsApplied  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	PoolSequence       prometheus.Gauge

	// --- Accounting ---
	AccrualDuration   prometheus.Histogram
	SolvencyChecks    *prometheus.CounterVec
	SolvencyFailures  *prometheus.CounterVec
	TransferFailures  *prometheus.CounterVec
	ProtocolIncome    *prometheus.GaugeVec
	ReserveUtilization *prometheus.GaugeVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Price feed ---
	PriceUpdates     *prometheus.CounterVec
	PriceParseErrors prometheus.Counter
	PriceAge         *prometheus.GaugeVec
	NATSPullLatency  *prometheus.HistogramVec

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Pool operations
		OperationsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_operations_applied_total",
			Help: "Pool operations successfully applied",
		}, []string{"operation"}),

		OperationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_operations_rejected_total",
			Help: "Pool operations rejected, by reason label",
		}, []string{"operation", "reason"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_operation_duration_seconds",
			Help:    "Time to apply a single pool operation",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		PoolSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_pool_sequence",
			Help: "Current operation sequence number",
		}),

		// Accounting
		AccrualDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_accrual_duration_seconds",
			Help:    "Time to accrue interest on one reserve",
			Buckets: latencyBuckets,
		}),

		SolvencyChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_solvency_checks_total",
			Help: "Collateral evaluations performed",
		}, []string{"operation"}),

		SolvencyFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_solvency_failures_total",
			Help: "Operations rolled back on insufficient free collateral",
		}, []string{"operation"}),

		TransferFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_transfer_failures_total",
			Help: "External asset transfers that failed and forced a rollback",
		}, []string{"operation"}),

		ProtocolIncome: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_protocol_income",
			Help: "Accumulated protocol income per asset (native units)",
		}, []string{"asset"}),

		ReserveUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_utilization",
			Help: "Reserve debt / supplied ratio (e6)",
		}, []string{"asset"}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times the pool blocked on the persist channel",
		}),

		// Price feed
		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_price_updates_total",
			Help: "Oracle price updates received",
		}, []string{"asset"}),

		PriceParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_price_parse_errors_total",
			Help: "Malformed price messages discarded",
		}),

		PriceAge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_price_age_seconds",
			Help: "Seconds since the last price update per asset",
		}, []string{"asset"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		// Persistence
		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_records_written_total",
			Help: "Operation records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
