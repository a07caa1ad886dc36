package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/model"
	"github.com/devrev/treasury/internal/storage/diskmanager"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Probe reports whether a dependency can serve requests
type Probe func(ctx context.Context) error

// HealthChecker performs health checks for the treasury node
type HealthChecker struct {
	nodeID      string
	dataDir     string
	interval    time.Duration
	disk        *diskmanager.DiskManager
	metrics     *metrics.Metrics
	logger      *zap.Logger
	probes      map[string]Probe
	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string
	Status    string
	Message   string
	Timestamp time.Time
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID   string
	DataDir  string
	Interval time.Duration
}

// NewHealthChecker creates a new health checker. disk may be nil when the
// node has no data directory to watch.
func NewHealthChecker(
	cfg *HealthCheckConfig,
	disk *diskmanager.DiskManager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *HealthChecker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		nodeID:      cfg.NodeID,
		dataDir:     cfg.DataDir,
		interval:    interval,
		disk:        disk,
		metrics:     m,
		logger:      logger,
		probes:      make(map[string]Probe),
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: false,
		status:      model.NodeStatusHealthy,
	}
}

// AddProbe registers a named dependency check. A failing probe marks the
// node not ready.
func (h *HealthChecker) AddProbe(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Start runs the checks every interval until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the node status
func (h *HealthChecker) RunChecks(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	results := []CheckResult{
		h.checkDiskSpace(),
		h.checkDataDirAccessible(),
		h.checkFileDescriptors(),
	}
	for name, probe := range probes {
		results = append(results, runProbe(ctx, name, probe))
	}

	allHealthy := true
	allReady := true
	for _, result := range results {
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	for _, result := range results {
		h.checks[result.Name] = result
	}

	switch {
	case allHealthy:
		h.status = model.NodeStatusHealthy
	case allReady:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusUnhealthy
	}

	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

func runProbe(ctx context.Context, name string, probe Probe) CheckResult {
	if err := probe(ctx); err != nil {
		return CheckResult{
			Name:      name,
			Status:    StatusCritical,
			Message:   err.Error(),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Message:   "ok",
		Timestamp: time.Now(),
	}
}

// checkDiskSpace reads usage from the disk manager so the health status and
// the commit log's circuit breaker agree
func (h *HealthChecker) checkDiskSpace() CheckResult {
	if h.disk == nil {
		return CheckResult{
			Name:      "disk_space",
			Status:    StatusHealthy,
			Message:   "No data directory",
			Timestamp: time.Now(),
		}
	}

	usage := h.disk.GetDiskUsage()
	h.metrics.UpdateDiskStats(usage.AvailableBytes, usage.UsagePercent)

	if usage.IsCircuitBroken {
		return CheckResult{
			Name:      "disk_space",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("Disk usage critical: %.2f%%", usage.UsagePercent),
			Timestamp: time.Now(),
		}
	} else if usage.IsWarning {
		return CheckResult{
			Name:      "disk_space",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Disk usage high: %.2f%%", usage.UsagePercent),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:   "disk_space",
		Status: StatusHealthy,
		Message: fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB",
			usage.UsagePercent, float64(usage.AvailableBytes)/1024/1024/1024),
		Timestamp: time.Now(),
	}
}

// checkDataDirAccessible checks if data directory is accessible
func (h *HealthChecker) checkDataDirAccessible() CheckResult {
	if h.dataDir == "" {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusHealthy,
			Message:   "No data directory",
			Timestamp: time.Now(),
		}
	}

	info, err := os.Stat(h.dataDir)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("Data directory not accessible: %v", err),
			Timestamp: time.Now(),
		}
	}

	if !info.IsDir() {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusCritical,
			Message:   "Data path is not a directory",
			Timestamp: time.Now(),
		}
	}

	testFile := filepath.Join(h.dataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("Cannot write to data directory: %v", err),
			Timestamp: time.Now(),
		}
	}
	f.Close()
	os.Remove(testFile)

	return CheckResult{
		Name:      "data_dir_accessible",
		Status:    StatusHealthy,
		Message:   "Data directory is accessible and writable",
		Timestamp: time.Now(),
	}
}

// checkFileDescriptors checks if file descriptor usage is acceptable
func (h *HealthChecker) checkFileDescriptors() CheckResult {
	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Failed to get rlimit: %v", err),
			Timestamp: time.Now(),
		}
	}

	// Linux only; elsewhere report the limits
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil || rlimit.Cur == 0 {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    StatusHealthy,
			Message:   fmt.Sprintf("Soft limit: %d, hard limit: %d", rlimit.Cur, rlimit.Max),
			Timestamp: time.Now(),
		}
	}

	openFDs := uint64(len(entries))
	usagePercent := float64(openFDs) / float64(rlimit.Cur) * 100

	if usagePercent > 90 {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("File descriptor usage high: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "file_descriptors",
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("File descriptor usage: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
		Timestamp: time.Now(),
	}
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthChecker) statusLocked() model.HealthStatus {
	checks := make(map[string]string, len(h.checks))
	for name, result := range h.checks {
		checks[name] = result.Status
	}
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Checks:    checks,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"node_id": status.NodeID,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  ready,
		"status": status.Status,
		"checks": status.Checks,
	})
}
