package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// LEDGERLOG_SERVER_PORT=5001 overrides server.port.
const EnvPrefix = "LEDGERLOG"

// Config is the process-wide configuration, initialized once at startup
// and read-only afterwards.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	WAL      WALConfig      `yaml:"wal"`
	Batching BatchingConfig `yaml:"batching"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Debug           bool          `yaml:"debug"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig configures the MongoDB record store
type StoreConfig struct {
	URL                   string        `yaml:"url"`
	Database              string        `yaml:"database"`
	Collection            string        `yaml:"collection"`
	SyncControlCollection string        `yaml:"sync_control_collection"`
	MinPoolSize           uint64        `yaml:"min_pool_size"`
	MaxPoolSize           uint64        `yaml:"max_pool_size"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	SelectionTimeout      time.Duration `yaml:"selection_timeout"`
	ConnectRetries        int           `yaml:"connect_retries"`
}

// CacheConfig configures the Redis query cache
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PoolSize   int    `yaml:"pool_size"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Addr returns the host:port Redis address
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TTL returns the cache entry lifetime
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LedgerConfig configures the Fabric ledger sync client
type LedgerConfig struct {
	URL           string        `yaml:"url"`
	MSPID         string        `yaml:"msp_id"`
	Channel       string        `yaml:"channel"`
	Contract      string        `yaml:"contract"`
	CertPath      string        `yaml:"cert_path"`
	KeyPath       string        `yaml:"key_path"`
	TLSCertPath   string        `yaml:"tls_cert_path"`
	SyncEnabled   bool          `yaml:"sync_enabled"`
	MaxWorkers    int           `yaml:"max_workers"`
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
}

// WALConfig configures the write-ahead log
type WALConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxFileSizeMB int           `yaml:"max_file_size_mb"`
	RetentionDays int           `yaml:"retention_days"`
}

// BatchingConfig configures the Merkle batch scheduler
type BatchingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	AutoBatchSize       int           `yaml:"auto_batch_size"`
	AutoBatchInterval   time.Duration `yaml:"auto_batch_interval"`
	WorkerCount         int           `yaml:"worker_count"`
	MaxQueueDepth       int           `yaml:"max_queue_depth"`
	VerificationEnabled bool          `yaml:"verification_enabled"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "console"
	Caller     bool   `yaml:"caller"`
	Stacktrace bool   `yaml:"stacktrace"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5001,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			URL:                   "mongodb://localhost:27017",
			Database:              "ledgerlog",
			Collection:            "logs",
			SyncControlCollection: "sync_control",
			MinPoolSize:           10,
			MaxPoolSize:           100,
			IdleTimeout:           5 * time.Minute,
			SelectionTimeout:      10 * time.Second,
			ConnectRetries:        5,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Host:       "localhost",
			Port:       6379,
			PoolSize:   20,
			TTLSeconds: 600,
		},
		Ledger: LedgerConfig{
			URL:           "localhost:7051",
			MSPID:         "Org1MSP",
			Channel:       "logchannel",
			Contract:      "logchaincode",
			SyncEnabled:   false,
			MaxWorkers:    10,
			InvokeTimeout: 30 * time.Second,
			QueryTimeout:  10 * time.Second,
		},
		WAL: WALConfig{
			Enabled:       true,
			Directory:     "./wal",
			CheckInterval: 5 * time.Second,
			MaxFileSizeMB: 100,
			RetentionDays: 7,
		},
		Batching: BatchingConfig{
			Enabled:             true,
			AutoBatchSize:       100,
			AutoBatchInterval:   30 * time.Second,
			WorkerCount:         5,
			MaxQueueDepth:       100,
			VerificationEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path (when non-empty) over the defaults
// and then applies environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for fatal misconfiguration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Store.URL == "" {
		return fmt.Errorf("store.url is required")
	}
	if c.Store.Database == "" || c.Store.Collection == "" || c.Store.SyncControlCollection == "" {
		return fmt.Errorf("store.database, store.collection and store.sync_control_collection are required")
	}
	if c.Store.MinPoolSize > c.Store.MaxPoolSize {
		return fmt.Errorf("store.min_pool_size (%d) exceeds store.max_pool_size (%d)", c.Store.MinPoolSize, c.Store.MaxPoolSize)
	}
	if c.WAL.Enabled && c.WAL.Directory == "" {
		return fmt.Errorf("wal.directory is required when wal.enabled")
	}
	if c.WAL.CheckInterval <= 0 {
		return fmt.Errorf("wal.check_interval must be positive")
	}
	if c.Batching.AutoBatchSize <= 0 {
		return fmt.Errorf("batching.auto_batch_size must be positive")
	}
	if c.Batching.WorkerCount <= 0 {
		return fmt.Errorf("batching.worker_count must be positive")
	}
	if c.Batching.MaxQueueDepth <= 0 {
		return fmt.Errorf("batching.max_queue_depth must be positive")
	}
	if c.Ledger.SyncEnabled {
		if c.Ledger.URL == "" {
			return fmt.Errorf("ledger.url is required when ledger.sync_enabled")
		}
		if c.Ledger.Channel == "" || c.Ledger.Contract == "" {
			return fmt.Errorf("ledger.channel and ledger.contract are required when ledger.sync_enabled")
		}
	}
	return nil
}

// applyEnv applies LEDGERLOG_SECTION_KEY environment overrides
func (c *Config) applyEnv() {
	envString(&c.Server.Host, "SERVER_HOST")
	envInt(&c.Server.Port, "SERVER_PORT")
	envBool(&c.Server.Debug, "SERVER_DEBUG")
	envDuration(&c.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	envDuration(&c.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	envDuration(&c.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	envString(&c.Store.URL, "STORE_URL")
	envString(&c.Store.Database, "STORE_DATABASE")
	envString(&c.Store.Collection, "STORE_COLLECTION")
	envString(&c.Store.SyncControlCollection, "STORE_SYNC_CONTROL_COLLECTION")
	envUint64(&c.Store.MinPoolSize, "STORE_MIN_POOL_SIZE")
	envUint64(&c.Store.MaxPoolSize, "STORE_MAX_POOL_SIZE")
	envDuration(&c.Store.IdleTimeout, "STORE_IDLE_TIMEOUT")
	envDuration(&c.Store.SelectionTimeout, "STORE_SELECTION_TIMEOUT")
	envInt(&c.Store.ConnectRetries, "STORE_CONNECT_RETRIES")

	envBool(&c.Cache.Enabled, "CACHE_ENABLED")
	envString(&c.Cache.Host, "CACHE_HOST")
	envInt(&c.Cache.Port, "CACHE_PORT")
	envInt(&c.Cache.PoolSize, "CACHE_POOL_SIZE")
	envInt(&c.Cache.TTLSeconds, "CACHE_TTL_SECONDS")

	envString(&c.Ledger.URL, "LEDGER_URL")
	envString(&c.Ledger.MSPID, "LEDGER_MSP_ID")
	envString(&c.Ledger.Channel, "LEDGER_CHANNEL")
	envString(&c.Ledger.Contract, "LEDGER_CONTRACT")
	envString(&c.Ledger.CertPath, "LEDGER_CERT_PATH")
	envString(&c.Ledger.KeyPath, "LEDGER_KEY_PATH")
	envString(&c.Ledger.TLSCertPath, "LEDGER_TLS_CERT_PATH")
	envBool(&c.Ledger.SyncEnabled, "LEDGER_SYNC_ENABLED")
	envInt(&c.Ledger.MaxWorkers, "LEDGER_MAX_WORKERS")
	envDuration(&c.Ledger.InvokeTimeout, "LEDGER_INVOKE_TIMEOUT")
	envDuration(&c.Ledger.QueryTimeout, "LEDGER_QUERY_TIMEOUT")

	envBool(&c.WAL.Enabled, "WAL_ENABLED")
	envString(&c.WAL.Directory, "WAL_DIRECTORY")
	envDuration(&c.WAL.CheckInterval, "WAL_CHECK_INTERVAL")
	envInt(&c.WAL.MaxFileSizeMB, "WAL_MAX_FILE_SIZE_MB")
	envInt(&c.WAL.RetentionDays, "WAL_RETENTION_DAYS")

	envBool(&c.Batching.Enabled, "BATCHING_ENABLED")
	envInt(&c.Batching.AutoBatchSize, "BATCHING_AUTO_BATCH_SIZE")
	envDuration(&c.Batching.AutoBatchInterval, "BATCHING_AUTO_BATCH_INTERVAL")
	envInt(&c.Batching.WorkerCount, "BATCHING_WORKER_COUNT")
	envInt(&c.Batching.MaxQueueDepth, "BATCHING_MAX_QUEUE_DEPTH")
	envBool(&c.Batching.VerificationEnabled, "BATCHING_VERIFICATION_ENABLED")

	envString(&c.Logging.Level, "LOGGING_LEVEL")
	envString(&c.Logging.Format, "LOGGING_FORMAT")
	envBool(&c.Logging.Caller, "LOGGING_CALLER")
	envBool(&c.Logging.Stacktrace, "LOGGING_STACKTRACE")
}

func lookup(key string) (string, bool) {
	return os.LookupEnv(EnvPrefix + "_" + key)
}

func envString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envUint64(dst *uint64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
