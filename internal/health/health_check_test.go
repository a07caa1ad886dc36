package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/model"
	"github.com/devrev/treasury/internal/storage/diskmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChecker(t *testing.T, total, available uint64) *HealthChecker {
	t.Helper()
	dir := t.TempDir()
	stat := func(string) (uint64, uint64, error) { return total, available, nil }
	disk, err := diskmanager.NewDiskManagerWithStat(diskmanager.DefaultConfig(dir), stat, zap.NewNop())
	require.NoError(t, err)

	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	return NewHealthChecker(&HealthCheckConfig{NodeID: "node-1", DataDir: dir}, disk, m, zap.NewNop())
}

func TestHealthChecker_NotReadyBeforeFirstCheck(t *testing.T) {
	h := newChecker(t, 1000, 900)
	assert.True(t, h.IsLive())
	assert.False(t, h.IsReady())
}

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name      string
		available uint64
		probeErr  error
		want      model.NodeStatus
		wantReady bool
	}{
		{"healthy", 900, nil, model.NodeStatusHealthy, true},
		{"disk warning", 150, nil, model.NodeStatusDegraded, true},
		{"disk full", 10, nil, model.NodeStatusUnhealthy, false},
		{"store down", 900, fmt.Errorf("database is locked"), model.NodeStatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newChecker(t, 1000, tt.available)
			h.AddProbe("ledger_store", func(context.Context) error { return tt.probeErr })

			h.RunChecks(context.Background())

			status := h.GetStatus()
			assert.Equal(t, tt.want, status.Status)
			assert.Equal(t, "node-1", status.NodeID)
			assert.Equal(t, tt.wantReady, h.IsReady())
			assert.Contains(t, status.Checks, "ledger_store")
			assert.Contains(t, status.Checks, "disk_space")
		})
	}
}

func TestHealthChecker_Handlers(t *testing.T) {
	h := newChecker(t, 1000, 900)
	h.RunChecks(context.Background())

	w := httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])

	h.SetReadiness(false)
	w = httptest.NewRecorder()
	h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthChecker_WithoutDataDir(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	h := NewHealthChecker(&HealthCheckConfig{NodeID: "mem"}, nil, m, zap.NewNop())

	h.RunChecks(context.Background())

	assert.True(t, h.IsReady())
	assert.Equal(t, StatusHealthy, h.GetChecks()["disk_space"].Status)
}
