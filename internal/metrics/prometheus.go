package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "treasury"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for the treasury node
type Metrics struct {
	// Instruction metrics
	InstructionsTotal    *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	InstructionErrors    *prometheus.CounterVec
	LamportsMovedTotal   *prometheus.CounterVec
	DerivationMismatches prometheus.Counter
	TreasuriesTotal      prometheus.Gauge

	// Ledger metrics
	LedgerCommitsTotal   prometheus.Counter
	LedgerRollbacksTotal prometheus.Counter
	LedgerSequence       prometheus.Gauge
	LedgerAccountsTotal  prometheus.Gauge

	// Commit log metrics
	CommitLogAppendsTotal   prometheus.Counter
	CommitLogAppendDuration prometheus.Histogram
	CommitLogSegmentsTotal  prometheus.Gauge

	// Auth metrics
	AuthRejectionsTotal *prometheus.CounterVec
	ReplayCacheEntries  prometheus.Gauge

	// System metrics
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil registers with the default registry.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		InstructionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "program",
			Name:        "instructions_total",
			Help:        "Total number of executed instructions by outcome",
			ConstLabels: labels,
		}, []string{"instruction", "outcome"}),
		InstructionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "program",
			Name:        "instruction_duration_seconds",
			Help:        "Instruction execution duration",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 15),
		}, []string{"instruction"}),
		InstructionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "program",
			Name:        "instruction_errors_total",
			Help:        "Failed instructions by error code",
			ConstLabels: labels,
		}, []string{"instruction", "code"}),
		LamportsMovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "program",
			Name:        "lamports_moved_total",
			Help:        "Lamports moved by committed instructions",
			ConstLabels: labels,
		}, []string{"instruction"}),
		DerivationMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "program",
			Name:        "derivation_mismatches_total",
			Help:        "Vault addresses that failed seed verification",
			ConstLabels: labels,
		}),
		TreasuriesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "program",
			Name:        "treasuries",
			Help:        "Number of initialized treasuries",
			ConstLabels: labels,
		}),

		LedgerCommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ledger",
			Name:        "commits_total",
			Help:        "Committed ledger transactions",
			ConstLabels: labels,
		}),
		LedgerRollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ledger",
			Name:        "rollbacks_total",
			Help:        "Rolled back ledger transactions",
			ConstLabels: labels,
		}),
		LedgerSequence: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "ledger",
			Name:        "sequence",
			Help:        "Sequence number of the last committed transaction",
			ConstLabels: labels,
		}),
		LedgerAccountsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "ledger",
			Name:        "accounts",
			Help:        "Number of accounts in the store",
			ConstLabels: labels,
		}),

		CommitLogAppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "commitlog",
			Name:        "appends_total",
			Help:        "Total number of commit log appends",
			ConstLabels: labels,
		}),
		CommitLogAppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "commitlog",
			Name:        "append_duration_seconds",
			Help:        "Commit log append duration",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		CommitLogSegmentsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "commitlog",
			Name:        "segments",
			Help:        "Number of commit log segments",
			ConstLabels: labels,
		}),

		AuthRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "auth",
			Name:        "rejections_total",
			Help:        "Rejected request signatures by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		ReplayCacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "auth",
			Name:        "replay_cache_entries",
			Help:        "Signatures held by the replay cache",
			ConstLabels: labels,
		}),

		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage",
			ConstLabels: labels,
		}),
	}
}

// RecordInstruction records one instruction execution
func (m *Metrics) RecordInstruction(instruction, outcome string, duration float64) {
	m.InstructionsTotal.WithLabelValues(instruction, outcome).Inc()
	m.InstructionDuration.WithLabelValues(instruction).Observe(duration)
}

// RecordInstructionError records the error code of a failed instruction
func (m *Metrics) RecordInstructionError(instruction, code string) {
	m.InstructionErrors.WithLabelValues(instruction, code).Inc()
}

// RecordLamportsMoved adds committed transfer volume
func (m *Metrics) RecordLamportsMoved(instruction string, lamports uint64) {
	m.LamportsMovedTotal.WithLabelValues(instruction).Add(float64(lamports))
}

// RecordDerivationMismatch counts a failed vault verification
func (m *Metrics) RecordDerivationMismatch() {
	m.DerivationMismatches.Inc()
}

// RecordTreasuryCreated bumps the treasury gauge
func (m *Metrics) RecordTreasuryCreated() {
	m.TreasuriesTotal.Inc()
}

// SetTreasuries sets the treasury gauge, used after recovery
func (m *Metrics) SetTreasuries(n int) {
	m.TreasuriesTotal.Set(float64(n))
}

// RecordCommit records a committed transaction
func (m *Metrics) RecordCommit(sequence uint64) {
	m.LedgerCommitsTotal.Inc()
	m.LedgerSequence.Set(float64(sequence))
}

// RecordRollback records a discarded transaction
func (m *Metrics) RecordRollback() {
	m.LedgerRollbacksTotal.Inc()
}

// UpdateAccounts sets the account gauge
func (m *Metrics) UpdateAccounts(n int) {
	m.LedgerAccountsTotal.Set(float64(n))
}

// RecordCommitLogAppend records a commit log append
func (m *Metrics) RecordCommitLogAppend(duration float64) {
	m.CommitLogAppendsTotal.Inc()
	m.CommitLogAppendDuration.Observe(duration)
}

// UpdateCommitLogSegments sets the segment gauge
func (m *Metrics) UpdateCommitLogSegments(n int) {
	m.CommitLogSegmentsTotal.Set(float64(n))
}

// RecordAuthRejection counts a rejected request signature
func (m *Metrics) RecordAuthRejection(reason string) {
	m.AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

// UpdateReplayCache sets the replay cache gauge
func (m *Metrics) UpdateReplayCache(entries int) {
	m.ReplayCacheEntries.Set(float64(entries))
}

// UpdateDiskStats sets the disk gauges
func (m *Metrics) UpdateDiskStats(available uint64, usagePercent float64) {
	m.DiskAvailableBytes.Set(float64(available))
	m.DiskUsagePercent.Set(usagePercent)
}
