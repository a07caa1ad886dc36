package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// DefaultProgramID is the treasury program's address
const DefaultProgramID = "4tXE3MBtiraiLALMezP1YmMm22QFofDraqzRAeUqB8dx"

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	NodeID              string        `yaml:"node_id"`
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes        int64         `yaml:"max_body_bytes"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// GRPCConfig holds the gRPC health server configuration
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ProgramConfig identifies the treasury program
type ProgramConfig struct {
	ID        string `yaml:"id"`
	MaxAmount uint64 `yaml:"max_amount"`
}

// Config represents the complete configuration for a treasury node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	GRPC        GRPCConfig        `yaml:"grpc"`
	Program     ProgramConfig     `yaml:"program"`
	Storage     StorageConfig     `yaml:"storage"`
	CommitLog   CommitLogConfig   `yaml:"commit_log"`
	Disk        DiskConfig        `yaml:"disk"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Genesis     GenesisConfig     `yaml:"genesis"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig holds account store configuration
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	CommitLogDir string `yaml:"commit_log_dir"`
	SQLitePath   string `yaml:"sqlite_path"`
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	SegmentSize int64 `yaml:"segment_size"`
	SyncWrites  bool  `yaml:"sync_writes"`
}

// DiskConfig holds the disk space guard configuration. Thresholds are percentages.
type DiskConfig struct {
	CheckInterval           time.Duration `yaml:"check_interval"`
	WarningThreshold        float64       `yaml:"warning_threshold"`
	CircuitBreakerThreshold float64       `yaml:"circuit_breaker_threshold"`
}

// AuthConfig holds request signature configuration
type AuthConfig struct {
	MaxClockSkew    time.Duration `yaml:"max_clock_skew"`
	ReplayCacheSize int           `yaml:"replay_cache_size"`
}

// RateLimiterConfig holds API rate limiting configuration
type RateLimiterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// GenesisAccount is credited when the ledger starts empty
type GenesisAccount struct {
	Address  string `yaml:"address"`
	Lamports uint64 `yaml:"lamports"`
}

// GenesisConfig lists the accounts funded on first start
type GenesisConfig struct {
	Accounts []GenesisAccount `yaml:"accounts"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	Path            string        `yaml:"path"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration for nodeID with every default applied
func Default(nodeID string) *Config {
	cfg := &Config{Server: ServerConfig{NodeID: nodeID}}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 64 * 1024
	}
	if cfg.Server.HealthCheckInterval == 0 {
		cfg.Server.HealthCheckInterval = 10 * time.Second
	}

	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 50060
	}

	if cfg.Program.ID == "" {
		cfg.Program.ID = DefaultProgramID
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/treasury"
	}
	if cfg.Storage.CommitLogDir == "" {
		cfg.Storage.CommitLogDir = filepath.Join(cfg.Storage.DataDir, "commitlog")
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "ledger.db")
	}

	if cfg.CommitLog.SegmentSize == 0 {
		cfg.CommitLog.SegmentSize = 64 * 1024 * 1024 // 64MB
	}

	if cfg.Disk.CheckInterval == 0 {
		cfg.Disk.CheckInterval = 10 * time.Second
	}
	if cfg.Disk.WarningThreshold == 0 {
		cfg.Disk.WarningThreshold = 80
	}
	if cfg.Disk.CircuitBreakerThreshold == 0 {
		cfg.Disk.CircuitBreakerThreshold = 95
	}

	if cfg.Auth.MaxClockSkew == 0 {
		cfg.Auth.MaxClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ReplayCacheSize == 0 {
		cfg.Auth.ReplayCacheSize = 100000
	}

	if cfg.RateLimiter.RequestsPerSecond == 0 {
		cfg.RateLimiter.RequestsPerSecond = 100
	}
	if cfg.RateLimiter.BurstSize == 0 {
		cfg.RateLimiter.BurstSize = 200
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.CollectInterval == 0 {
		cfg.Metrics.CollectInterval = 15 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > 65535) {
		return fmt.Errorf("grpc.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	if _, err := solana.PublicKeyFromBase58(c.Program.ID); err != nil {
		return fmt.Errorf("program.id is not a valid address: %w", err)
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendMemory, BackendSQLite)
	}
	if c.CommitLog.SegmentSize < 1024 {
		return fmt.Errorf("commit_log.segment_size must be at least 1024 bytes")
	}

	if c.Disk.WarningThreshold <= 0 || c.Disk.WarningThreshold > 100 {
		return fmt.Errorf("disk.warning_threshold must be between 0 and 100")
	}
	if c.Disk.CircuitBreakerThreshold <= 0 || c.Disk.CircuitBreakerThreshold > 100 {
		return fmt.Errorf("disk.circuit_breaker_threshold must be between 0 and 100")
	}
	if c.Disk.WarningThreshold > c.Disk.CircuitBreakerThreshold {
		return fmt.Errorf("disk.warning_threshold must not exceed disk.circuit_breaker_threshold")
	}

	if c.Auth.MaxClockSkew < time.Second {
		return fmt.Errorf("auth.max_clock_skew must be at least 1s")
	}
	if c.Auth.ReplayCacheSize < 1 {
		return fmt.Errorf("auth.replay_cache_size must be positive")
	}

	if c.RateLimiter.Enabled && c.RateLimiter.BurstSize < 1 {
		return fmt.Errorf("rate_limiter.burst_size must be positive")
	}

	for i, acct := range c.Genesis.Accounts {
		if _, err := solana.PublicKeyFromBase58(acct.Address); err != nil {
			return fmt.Errorf("genesis.accounts[%d].address is not a valid address: %w", i, err)
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}

	return nil
}

// ProgramID returns the parsed program address. Validate guarantees it parses.
func (c *Config) ProgramID() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Program.ID)
}
