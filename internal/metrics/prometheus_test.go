package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered sums every sample of the named family whose labels include want
func gathered(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
				}
			}
			if !match {
				continue
			}
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("node-1", reg)

	m.RecordInstruction("deposit", OutcomeSuccess, 0.01)
	m.RecordInstruction("deposit", OutcomeSuccess, 0.02)
	m.RecordInstruction("distribute", OutcomeFailure, 0.01)
	m.RecordLamportsMoved("deposit", 1000)
	m.RecordCommit(7)
	m.RecordRollback()
	m.RecordDerivationMismatch()

	assert.Equal(t, 2.0, gathered(t, reg, "treasury_program_instructions_total",
		map[string]string{"instruction": "deposit", "outcome": OutcomeSuccess}))
	assert.Equal(t, 1.0, gathered(t, reg, "treasury_program_instructions_total",
		map[string]string{"instruction": "distribute", "outcome": OutcomeFailure}))
	assert.Equal(t, 1000.0, gathered(t, reg, "treasury_program_lamports_moved_total", nil))
	assert.Equal(t, 7.0, gathered(t, reg, "treasury_ledger_sequence", map[string]string{"node_id": "node-1"}))
	assert.Equal(t, 1.0, gathered(t, reg, "treasury_ledger_commits_total", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "treasury_ledger_rollbacks_total", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "treasury_program_derivation_mismatches_total", nil))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("a", prometheus.NewRegistry())
		NewMetrics("b", prometheus.NewRegistry())
	})
}
