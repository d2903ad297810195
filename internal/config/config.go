package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `json:"database" envPrefix:"ASKMETRICS_"`
	Schema   SchemaConfig   `json:"schema"   envPrefix:"ASKMETRICS_"`
	Cache    CacheConfig    `json:"cache"    envPrefix:"ASKMETRICS_"`
	LLM      LLMConfig      `json:"llm"      envPrefix:"ASKMETRICS_"`
	Agent    AgentConfig    `json:"agent"    envPrefix:"ASKMETRICS_"`
	Server   ServerConfig   `json:"server"   envPrefix:"ASKMETRICS_"`
	Logging  LoggingConfig  `json:"logging"  envPrefix:"ASKMETRICS_"`
	Debug    DebugConfig    `json:"debug"    envPrefix:"ASKMETRICS_"`
}

const (
	// Fallback durations used when a validated value fails to parse
	defaultQueryTimeout    = 30 * time.Second
	defaultConnLifetime    = 30 * time.Minute
	defaultConnIdleTime    = 5 * time.Minute
	defaultSchemaTTL       = 5 * time.Minute
	defaultCleanupFreq     = 1 * time.Hour
	defaultLLMTimeout      = 2 * time.Minute
	defaultLLMRetryDelay   = 2 * time.Second
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// DatabaseConfig represents metrics database configuration
type DatabaseConfig struct {
	Driver           string `json:"driver"             env:"DB_DRIVER"             envDefault:"duckdb"`
	Path             string `json:"path"               env:"DB_PATH"               envDefault:"~/.local/share/askmetrics/metrics.db"`
	DSN              string `json:"dsn"                env:"DB_DSN"                envDefault:""`
	MaxConnections   int    `json:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns     int    `json:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime  string `json:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	ConnMaxIdleTime  string `json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	QueryTimeout     string `json:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"`
	MaxResultRows    int    `json:"max_result_rows"    env:"DB_MAX_RESULT_ROWS"    envDefault:"100"`
	ScanRowThreshold int64  `json:"scan_row_threshold" env:"DB_SCAN_ROW_THRESHOLD" envDefault:"100000"`
}

// SchemaConfig represents schema catalog configuration
type SchemaConfig struct {
	RefreshTTL string `json:"refresh_ttl" env:"SCHEMA_REFRESH_TTL" envDefault:"5m"` // how long a snapshot stays fresh
}

// CacheConfig represents answer cache configuration
type CacheConfig struct {
	Backend     string `json:"backend"           env:"CACHE_BACKEND"      envDefault:"file"` // file, memory
	Directory   string `json:"directory"         env:"CACHE_DIR"          envDefault:"~/.cache/askmetrics"`
	MaxSizeMB   int    `json:"max_size_mb"       env:"CACHE_MAX_SIZE_MB"  envDefault:"100"`
	TTLHours    int    `json:"ttl_hours"         env:"CACHE_TTL_HOURS"    envDefault:"1"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h"`
}

// LLMConfig represents language model provider configuration
type LLMConfig struct {
	Provider       string  `json:"provider"        env:"LLM_PROVIDER"        envDefault:"openai"`
	Model          string  `json:"model"           env:"LLM_MODEL"           envDefault:"gpt-4o-mini"`
	APIKey         string  `json:"api_key"         env:"LLM_API_KEY"         envDefault:""`
	BaseURL        string  `json:"base_url"        env:"LLM_BASE_URL"        envDefault:""`
	Temperature    float64 `json:"temperature"     env:"LLM_TEMPERATURE"     envDefault:"0.1"`
	MaxTokens      int     `json:"max_tokens"      env:"LLM_MAX_TOKENS"      envDefault:"1024"`
	Timeout        string  `json:"timeout"         env:"LLM_TIMEOUT"         envDefault:"2m"`
	RetryAttempts  int     `json:"retry_attempts"  env:"LLM_RETRY_ATTEMPTS"  envDefault:"2"`
	RetryDelay     string  `json:"retry_delay"     env:"LLM_RETRY_DELAY"     envDefault:"2s"`
	EnableFallback bool    `json:"enable_fallback" env:"LLM_ENABLE_FALLBACK" envDefault:"true"`
}

// AgentConfig represents question answering agent configuration
type AgentConfig struct {
	MaxRepairAttempts int     `json:"max_repair_attempts" env:"AGENT_MAX_REPAIR_ATTEMPTS" envDefault:"3"`
	ClarifyThreshold  float64 `json:"clarify_threshold"   env:"AGENT_CLARIFY_THRESHOLD"   envDefault:"0.3"`
	EnableSummary     bool    `json:"enable_summary"      env:"AGENT_ENABLE_SUMMARY"      envDefault:"true"`
	EnableLLMIntent   bool    `json:"enable_llm_intent"   env:"AGENT_ENABLE_LLM_INTENT"   envDefault:"false"`
	EnableHistory     bool    `json:"enable_history"      env:"AGENT_ENABLE_HISTORY"      envDefault:"true"`
	HistoryLimit      int     `json:"history_limit"       env:"AGENT_HISTORY_LIMIT"       envDefault:"5"`
	Scope             string  `json:"scope"               env:"AGENT_SCOPE"               envDefault:"default"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Addr            string `json:"addr"             env:"SERVER_ADDR"             envDefault:":8080"`
	ReadTimeout     string `json:"read_timeout"     env:"SERVER_READ_TIMEOUT"     envDefault:"10s"`
	WriteTimeout    string `json:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    envDefault:"60s"`
	ShutdownTimeout string `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `json:"level"        env:"LOG_LEVEL"        envDefault:"info"`                             // debug, info, warn, error
	Format     string `json:"format"       env:"LOG_FORMAT"       envDefault:"text"`                             // text, json
	Output     string `json:"output"       env:"LOG_OUTPUT"       envDefault:"stdout"`                           // stdout, stderr, file
	File       string `json:"file"         env:"LOG_FILE"         envDefault:"~/.config/askmetrics/logs/app.log"` // log file path when output is file
	MaxSizeMB  int    `json:"max_size_mb"  env:"LOG_MAX_SIZE_MB"  envDefault:"10"`                               // max log file size
	MaxBackups int    `json:"max_backups"  env:"LOG_MAX_BACKUPS"  envDefault:"5"`                                // max number of backup files
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE_DAYS" envDefault:"30"`                               // max age of log files
	AddSource  bool   `json:"add_source"   env:"LOG_ADD_SOURCE"   envDefault:"false"`                            // add source file and line info to logs
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled  bool `json:"enabled"   env:"DEBUG"           envDefault:"false"`
	Verbose  bool `json:"verbose"   env:"VERBOSE"         envDefault:"false"`
	TraceAPI bool `json:"trace_api" env:"DEBUG_TRACE_API" envDefault:"false"`
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	// Start with empty configuration (defaults will be set by env.Parse)
	config := &Config{}

	// Load from config file if it exists
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Apply environment variable overrides using env library (also sets defaults)
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// Apply command-line flag overrides
	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into a temporary struct to merge with defaults
	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Merge file config with defaults
	mergeConfigs(config, &fileConfig)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "db-driver":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Driver = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Provider = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "scope":
			if str, ok := value.(string); ok && str != "" {
				config.Agent.Scope = str
			}
		}
	}

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	// Validate log format
	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	// Validate log output
	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	// Validate database driver
	validDrivers := map[string]bool{
		"duckdb": true, "postgres": true,
	}
	if !validDrivers[strings.ToLower(config.Database.Driver)] {
		return fmt.Errorf(
			"invalid database driver: %s (must be duckdb or postgres)",
			config.Database.Driver,
		)
	}

	if strings.ToLower(config.Database.Driver) == "postgres" && config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for the postgres driver")
	}

	// Validate cache backend
	validBackends := map[string]bool{
		"file": true, "memory": true,
	}
	if !validBackends[strings.ToLower(config.Cache.Backend)] {
		return fmt.Errorf(
			"invalid cache backend: %s (must be file or memory)",
			config.Cache.Backend,
		)
	}

	// Validate timeout durations
	durations := map[string]string{
		"database query timeout":     config.Database.QueryTimeout,
		"database conn max lifetime": config.Database.ConnMaxLifetime,
		"database conn max idle":     config.Database.ConnMaxIdleTime,
		"schema refresh ttl":         config.Schema.RefreshTTL,
		"cache cleanup frequency":    config.Cache.CleanupFreq,
		"llm timeout":                config.LLM.Timeout,
		"llm retry delay":            config.LLM.RetryDelay,
		"server read timeout":        config.Server.ReadTimeout,
		"server write timeout":       config.Server.WriteTimeout,
		"server shutdown timeout":    config.Server.ShutdownTimeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}
	}

	// Validate numeric values
	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Database.MaxResultRows <= 0 {
		return fmt.Errorf(
			"database max result rows must be positive: %d",
			config.Database.MaxResultRows,
		)
	}

	if config.Agent.MaxRepairAttempts < 1 {
		return fmt.Errorf(
			"agent max repair attempts must be at least 1: %d",
			config.Agent.MaxRepairAttempts,
		)
	}

	if config.Agent.ClarifyThreshold < 0 || config.Agent.ClarifyThreshold > 1 {
		return fmt.Errorf(
			"agent clarify threshold must be between 0 and 1: %f",
			config.Agent.ClarifyThreshold,
		)
	}

	return nil
}

// durationOrDefault parses a duration string already checked by validateConfig,
// falling back to the given default rather than returning a zero timeout.
func durationOrDefault(value string, fallback time.Duration) time.Duration {
	dur, err := time.ParseDuration(value)
	if err != nil || dur <= 0 {
		return fallback
	}

	return dur
}

// QueryTimeoutDuration returns the parsed statement timeout
func (d DatabaseConfig) QueryTimeoutDuration() time.Duration {
	return durationOrDefault(d.QueryTimeout, defaultQueryTimeout)
}

// ConnMaxLifetimeDuration returns the parsed connection lifetime limit
func (d DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return durationOrDefault(d.ConnMaxLifetime, defaultConnLifetime)
}

// ConnMaxIdleTimeDuration returns the parsed idle connection limit
func (d DatabaseConfig) ConnMaxIdleTimeDuration() time.Duration {
	return durationOrDefault(d.ConnMaxIdleTime, defaultConnIdleTime)
}

// RefreshTTLDuration returns the parsed snapshot freshness window
func (s SchemaConfig) RefreshTTLDuration() time.Duration {
	return durationOrDefault(s.RefreshTTL, defaultSchemaTTL)
}

// CleanupFreqDuration returns the parsed cache cleanup interval
func (c CacheConfig) CleanupFreqDuration() time.Duration {
	return durationOrDefault(c.CleanupFreq, defaultCleanupFreq)
}

// TimeoutDuration returns the parsed provider request timeout
func (l LLMConfig) TimeoutDuration() time.Duration {
	return durationOrDefault(l.Timeout, defaultLLMTimeout)
}

// RetryDelayDuration returns the parsed delay between provider retries
func (l LLMConfig) RetryDelayDuration() time.Duration {
	return durationOrDefault(l.RetryDelay, defaultLLMRetryDelay)
}

// ReadTimeoutDuration returns the parsed server read timeout
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return durationOrDefault(s.ReadTimeout, defaultServerTimeout)
}

// WriteTimeoutDuration returns the parsed server write timeout
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return durationOrDefault(s.WriteTimeout, defaultServerTimeout)
}

// ShutdownTimeoutDuration returns the parsed graceful shutdown limit
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return durationOrDefault(s.ShutdownTimeout, defaultShutdownTimeout)
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to JSON
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	// Check for custom config path from environment
	if configPath := os.Getenv("ASKMETRICS_CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(homeDir, ".config", "askmetrics", "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.Cache.Directory = expandPath(c.Cache.Directory)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/askmetrics"
	}

	return filepath.Join(homeDir, ".config", "askmetrics")
}

// GetCacheDir returns the cache directory
func GetCacheDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".cache/askmetrics"
	}

	return filepath.Join(homeDir, ".cache", "askmetrics")
}

// GetDataDir returns the data directory holding the metrics database
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/askmetrics"
	}

	return filepath.Join(homeDir, ".local", "share", "askmetrics")
}

// GetLogDir returns the log directory
func GetLogDir() string {
	return filepath.Join(GetConfigDir(), "logs")
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.Cache.Directory,
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
