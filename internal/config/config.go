package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/sourcify-extractor/internal/validation"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "SOURCIFY_EXTRACTOR__"

// DefaultSourcifyURL is the public Sourcify server.
const DefaultSourcifyURL = "https://sourcify.dev/server"

var (
	ErrNoChains        = errors.New("`chains` should not be empty")
	ErrNoDatabaseURL   = errors.New("`database_url` is required")
	ErrNoEthBytecodeDB = errors.New("`eth_bytecode_db_url` is required")
)

// Config holds all configuration for the extractor
type Config struct {
	Database      DatabaseConfig
	Sourcify      SourcifyConfig
	EthBytecodeDB EthBytecodeDBConfig
	Extractor     ExtractorConfig
	Logging       LoggingConfig
	Ops           OpsConfig
}

// DatabaseConfig holds the outcome ledger connection settings
type DatabaseConfig struct {
	URL            string
	CreateDatabase bool
	RunMigrations  bool
}

// SourcifyConfig holds registry client settings
type SourcifyConfig struct {
	URL                    string
	LimitRequestsPerSecond int
	RetryBaseDelayMS       int
}

// EthBytecodeDBConfig holds verification service settings
type EthBytecodeDBConfig struct {
	URL    string
	APIKey string
}

// ExtractorConfig holds pipeline settings
type ExtractorConfig struct {
	Chains         []uint64
	NThreads       int
	RequestTimeout int // seconds, 0 disables
	SkipProcessed  bool
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text", "json" or "auto"
}

// OpsConfig holds the metrics and ops server settings
type OpsConfig struct {
	MetricsEnabled bool
	Addr           string // empty disables the ops server
}

// fileConfig mirrors the keys accepted in a TOML or YAML config file.
type fileConfig struct {
	DatabaseURL            string   `toml:"database_url" yaml:"database_url"`
	CreateDatabase         *bool    `toml:"create_database" yaml:"create_database"`
	RunMigrations          *bool    `toml:"run_migrations" yaml:"run_migrations"`
	SourcifyURL            string   `toml:"sourcify_url" yaml:"sourcify_url"`
	EthBytecodeDBURL       string   `toml:"eth_bytecode_db_url" yaml:"eth_bytecode_db_url"`
	EthBytecodeDBAPIKey    string   `toml:"eth_bytecode_db_api_key" yaml:"eth_bytecode_db_api_key"`
	LimitRequestsPerSecond int      `toml:"limit_requests_per_second" yaml:"limit_requests_per_second"`
	RetryBaseDelayMS       int      `toml:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	NThreads               int      `toml:"n_threads" yaml:"n_threads"`
	Chains                 []uint64 `toml:"chains" yaml:"chains"`
	RequestTimeoutSeconds  *int     `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	SkipProcessed          *bool    `toml:"skip_processed" yaml:"skip_processed"`
	LogLevel               string   `toml:"log_level" yaml:"log_level"`
	LogFormat              string   `toml:"log_format" yaml:"log_format"`
	MetricsEnabled         *bool    `toml:"metrics_enabled" yaml:"metrics_enabled"`
	OpsAddr                string   `toml:"ops_addr" yaml:"ops_addr"`
}

// Load loads configuration from an optional config file and environment
// variables. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		if err := readFile(path, &fc); err != nil {
			return nil, err
		}
	}

	chains := fc.Chains
	if value := os.Getenv(EnvPrefix + "CHAINS"); value != "" {
		parsed, err := ParseChains(value)
		if err != nil {
			return nil, err
		}
		chains = parsed
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", fc.DatabaseURL),
			CreateDatabase: getEnvBool("CREATE_DATABASE", deref(fc.CreateDatabase, false)),
			RunMigrations:  getEnvBool("RUN_MIGRATIONS", deref(fc.RunMigrations, false)),
		},
		Sourcify: SourcifyConfig{
			URL:                    getEnv("SOURCIFY_URL", orDefault(fc.SourcifyURL, DefaultSourcifyURL)),
			LimitRequestsPerSecond: getEnvInt("LIMIT_REQUESTS_PER_SECOND", orDefault(fc.LimitRequestsPerSecond, 10)),
			RetryBaseDelayMS:       getEnvInt("RETRY_BASE_DELAY_MS", orDefault(fc.RetryBaseDelayMS, 1000)),
		},
		EthBytecodeDB: EthBytecodeDBConfig{
			URL:    getEnv("ETH_BYTECODE_DB_URL", fc.EthBytecodeDBURL),
			APIKey: getEnv("ETH_BYTECODE_DB_API_KEY", fc.EthBytecodeDBAPIKey),
		},
		Extractor: ExtractorConfig{
			Chains:         chains,
			NThreads:       getEnvInt("N_THREADS", orDefault(fc.NThreads, 4)),
			RequestTimeout: getEnvInt("REQUEST_TIMEOUT_SECONDS", deref(fc.RequestTimeoutSeconds, 60)),
			SkipProcessed:  getEnvBool("SKIP_PROCESSED", deref(fc.SkipProcessed, false)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", orDefault(fc.LogLevel, "info")),
			Format: getEnv("LOG_FORMAT", orDefault(fc.LogFormat, "auto")),
		},
		Ops: OpsConfig{
			MetricsEnabled: getEnvBool("METRICS_ENABLED", deref(fc.MetricsEnabled, true)),
			Addr:           getEnv("OPS_ADDR", fc.OpsAddr),
		},
	}

	return cfg, nil
}

// Validate checks the settings required before any work begins.
func (c *Config) Validate() error {
	if len(c.Extractor.Chains) == 0 {
		return ErrNoChains
	}
	if c.Database.URL == "" {
		return ErrNoDatabaseURL
	}
	if c.EthBytecodeDB.URL == "" {
		return ErrNoEthBytecodeDB
	}
	if c.Sourcify.LimitRequestsPerSecond <= 0 {
		return fmt.Errorf("`limit_requests_per_second` must be positive, got %d", c.Sourcify.LimitRequestsPerSecond)
	}
	if c.Extractor.RequestTimeout < 0 {
		return fmt.Errorf("`request_timeout_seconds` must not be negative, got %d", c.Extractor.RequestTimeout)
	}
	if err := validation.ValidateChainIDs(c.Extractor.Chains); err != nil {
		return fmt.Errorf("`chains`: %w", err)
	}
	if err := validation.ValidateBaseURL(c.Sourcify.URL); err != nil {
		return fmt.Errorf("`sourcify_url`: %w", err)
	}
	if err := validation.ValidateBaseURL(c.EthBytecodeDB.URL); err != nil {
		return fmt.Errorf("`eth_bytecode_db_url`: %w", err)
	}
	if c.Logging.Format != "" {
		if err := validation.ValidateLogFormat(c.Logging.Format); err != nil {
			return fmt.Errorf("`log_format`: %w", err)
		}
	}
	return nil
}

// ParseChains parses a comma-separated list of chain ids.
func ParseChains(value string) ([]uint64, error) {
	parts := strings.Split(value, ",")
	chains := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q: %w", p, err)
		}
		chains = append(chains, id)
	}
	return chains, nil
}

func readFile(path string, fc *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), fc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, fc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %s", path)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func orDefault[T comparable](value, defaultValue T) T {
	var zero T
	if value == zero {
		return defaultValue
	}
	return value
}

func deref[T any](p *T, defaultValue T) T {
	if p == nil {
		return defaultValue
	}
	return *p
}
