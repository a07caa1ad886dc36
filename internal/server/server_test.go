package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrev/treasury/internal/auth"
	"github.com/devrev/treasury/internal/config"
	"github.com/devrev/treasury/internal/derivation"
	"github.com/devrev/treasury/internal/handler"
	"github.com/devrev/treasury/internal/health"
	"github.com/devrev/treasury/internal/ledger"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/service"
	"github.com/devrev/treasury/internal/validation"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type node struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	ledger     *ledger.Ledger
	treasuries *service.TreasuryService
	checker    *health.HealthChecker
	api        *Server
}

func newNode(t *testing.T, mutate func(*config.Config)) *node {
	t.Helper()
	logger := zap.NewNop()

	cfg := config.Default("test")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Server.NodeID, reg)

	l := ledger.NewLedger(ledger.NewMemoryStore(nil, logger), m, logger)
	d := derivation.NewDeriver(cfg.ProgramID())
	transfers := service.NewTransferService(d, m, logger)
	treasuries := service.NewTreasuryService(l, d, transfers, m, logger)

	replay := auth.NewReplayCache(&auth.ReplayCacheConfig{MaxEntries: cfg.Auth.ReplayCacheSize}, logger)
	verifier := auth.NewVerifier(&auth.VerifierConfig{MaxClockSkew: cfg.Auth.MaxClockSkew}, replay, m, logger)
	errorHandler := handler.NewErrorHandler(logger)
	h := handler.NewTreasuryHandler(treasuries, verifier, validation.NewValidator(), errorHandler, logger)

	api := NewServer(cfg, h, errorHandler, logger)
	api.SetupRoutes()

	checker := health.NewHealthChecker(&health.HealthCheckConfig{NodeID: cfg.Server.NodeID}, nil, m, logger)

	return &node{
		cfg:        cfg,
		registry:   reg,
		metrics:    m,
		ledger:     l,
		treasuries: treasuries,
		checker:    checker,
		api:        api,
	}
}

func TestServer_MiddlewareApplied(t *testing.T) {
	n := newNode(t, nil)
	authority := solana.NewWallet().PublicKey()

	req := httptest.NewRequest(http.MethodGet, "/v1/authorities/"+authority.String()+"/treasury", nil)
	w := httptest.NewRecorder()
	n.api.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp handler.TreasuryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, authority.String(), resp.Authority)
	assert.False(t, resp.Initialized)
}

func TestServer_NotFound(t *testing.T) {
	n := newNode(t, nil)

	w := httptest.NewRecorder()
	n.api.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2/anything", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), handler.ErrorCodeNotFound)
}

func TestServer_BodyLimit(t *testing.T) {
	n := newNode(t, func(c *config.Config) { c.Server.MaxBodyBytes = 32 })

	body := `{"authority":"` + strings.Repeat("1", 64) + `"}`
	w := httptest.NewRecorder()
	n.api.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/treasuries", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), handler.ErrorCodeRequestTooLarge)
}

func TestServer_RateLimited(t *testing.T) {
	n := newNode(t, func(c *config.Config) {
		c.RateLimiter = config.RateLimiterConfig{Enabled: true, RequestsPerSecond: 0.01, BurstSize: 1}
	})
	path := "/v1/accounts/" + solana.NewWallet().PublicKey().String()

	w := httptest.NewRecorder()
	n.api.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	n.api.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMetricsServer_Routes(t *testing.T) {
	n := newNode(t, nil)

	collected := 0
	collect := func(ctx context.Context) error {
		collected++
		_, err := n.treasuries.CountTreasuries(ctx)
		return err
	}

	ms := NewMetricsServer(&MetricsServerConfig{Port: 0, Path: "/metrics", CollectInterval: time.Minute},
		n.registry, n.checker, collect, zap.NewNop())

	w := httptest.NewRecorder()
	ms.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	n.checker.RunChecks(context.Background())
	w = httptest.NewRecorder()
	ms.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	ms.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	ms.runCollector()
	assert.Equal(t, 1, collected)

	w = httptest.NewRecorder()
	ms.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "treasury_program_treasuries")
}

func TestGRPCHealthServer_FollowsReadiness(t *testing.T) {
	n := newNode(t, nil)
	gs := NewGRPCHealthServer("127.0.0.1", 0, time.Minute, n.checker, zap.NewNop())

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := gs.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	n.checker.RunChecks(context.Background())
	gs.syncStatus()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(TreasuryServiceName))

	require.NoError(t, gs.Start())
	assert.NotEqual(t, "127.0.0.1:0", gs.Addr())

	gs.Stop()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(TreasuryServiceName))
}
