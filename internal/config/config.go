package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the token monitor
type Config struct {
	RPC           RPCConfig           `yaml:"rpc"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Storage       StorageConfig       `yaml:"storage"`
	Log           LogConfig           `yaml:"log"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MonitorConfig holds poll loop configuration
type MonitorConfig struct {
	// ContractAddress is the contract whose TokenCreated logs are watched
	ContractAddress string `yaml:"contract_address"`
	// PollInterval is the fixed cadence between cycles
	PollInterval time.Duration `yaml:"poll_interval"`
	// PersistEvery is the number of committed cycles between checkpoint saves
	PersistEvery int `yaml:"persist_every"`
	// MaxBlockRange caps the number of blocks queried per cycle (0 = unlimited)
	MaxBlockRange uint64 `yaml:"max_block_range"`
	// MaxBackoff caps the sleep after consecutive failed cycles
	MaxBackoff time.Duration `yaml:"max_backoff"`
	// DegradedAfter is the number of consecutive failed cycles before health degrades
	DegradedAfter int `yaml:"degraded_after"`
	// StopAfter stops the loop after this many consecutive failed cycles (0 = never)
	StopAfter int `yaml:"stop_after"`
	// IOTimeout bounds each chain or state call of a cycle; deliveries are bounded by the notifications settings
	IOTimeout time.Duration `yaml:"io_timeout"`
}

// StorageConfig holds monitor state persistence configuration
type StorageConfig struct {
	// Backend is "file" (JSON document) or "pebble" (PebbleDB directory)
	Backend string `yaml:"backend"`
	// Path is the state file or database directory
	Path string `yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File also writes JSON logs to this path with size-based rotation
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// NotificationsConfig holds delivery configuration
type NotificationsConfig struct {
	// Type selects the deliverer: "webhook", "slack" or "log"
	Type string `yaml:"type"`
	// Timeout for a single delivery request
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of extra attempts per delivery
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the first delay between attempts; it doubles per attempt
	RetryDelay time.Duration `yaml:"retry_delay"`
	// MaxConcurrent bounds parallel deliveries for one event
	MaxConcurrent int `yaml:"max_concurrent"`
	// WebhookSecret signs webhook payloads with HMAC-SHA256 when set
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
	// SignatureHeader is the header name carrying the webhook signature
	SignatureHeader string `yaml:"signature_header"`
	// SlackUsername overrides the Slack bot display name
	SlackUsername string `yaml:"slack_username,omitempty"`
	// SlackRateLimitPerMinute limits Slack posts across all tenants
	SlackRateLimitPerMinute int `yaml:"slack_rate_limit_per_minute"`
}

// APIConfig holds control API server configuration
type APIConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Host               string  `yaml:"host"`
	Port               int     `yaml:"port"`
	EnableRateLimit    bool    `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	// APIKey protects the mutating control routes when set
	APIKey string `yaml:"api_key"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Endpoint == "" {
		c.RPC.Endpoint = constants.DefaultRPCEndpoint
	}
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}

	// Monitor defaults
	if c.Monitor.ContractAddress == "" {
		c.Monitor.ContractAddress = constants.DefaultContractAddress
	}
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = constants.DefaultPollInterval
	}
	if c.Monitor.PersistEvery == 0 {
		c.Monitor.PersistEvery = constants.DefaultPersistEvery
	}
	if c.Monitor.MaxBackoff == 0 {
		c.Monitor.MaxBackoff = constants.DefaultMaxBackoff
	}
	if c.Monitor.DegradedAfter == 0 {
		c.Monitor.DegradedAfter = constants.DefaultDegradedAfter
	}
	if c.Monitor.IOTimeout == 0 {
		c.Monitor.IOTimeout = constants.DefaultIOTimeout
	}

	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = constants.StorageBackendFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = constants.DefaultStatePath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Notifications defaults
	if c.Notifications.Type == "" {
		c.Notifications.Type = constants.DeliveryTypeWebhook
	}
	if c.Notifications.Timeout == 0 {
		c.Notifications.Timeout = constants.DefaultDeliveryTimeout
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = constants.DefaultDeliveryMaxRetries
	}
	if c.Notifications.RetryDelay == 0 {
		c.Notifications.RetryDelay = constants.DefaultDeliveryRetryDelay
	}
	if c.Notifications.MaxConcurrent == 0 {
		c.Notifications.MaxConcurrent = constants.DefaultMaxConcurrentDeliveries
	}
	if c.Notifications.SignatureHeader == "" {
		c.Notifications.SignatureHeader = constants.DefaultSignatureHeader
	}
	if c.Notifications.SlackRateLimitPerMinute == 0 {
		c.Notifications.SlackRateLimitPerMinute = constants.DefaultSlackRateLimitPerMinute
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}
}

// LoadFromEnv loads configuration from environment variables
// Environment variables take precedence over file configuration
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("TOKENWATCH_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("TOKENWATCH_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid TOKENWATCH_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}

	// Monitor configuration
	if addr := os.Getenv("TOKENWATCH_CONTRACT_ADDRESS"); addr != "" {
		c.Monitor.ContractAddress = addr
	}
	if interval := os.Getenv("TOKENWATCH_POLL_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid TOKENWATCH_POLL_INTERVAL: %w", err)
		}
		c.Monitor.PollInterval = duration
	}
	if every := os.Getenv("TOKENWATCH_PERSIST_EVERY"); every != "" {
		val, err := strconv.Atoi(every)
		if err != nil {
			return fmt.Errorf("invalid TOKENWATCH_PERSIST_EVERY: %w", err)
		}
		c.Monitor.PersistEvery = val
	}
	if maxRange := os.Getenv("TOKENWATCH_MAX_BLOCK_RANGE"); maxRange != "" {
		val, err := strconv.ParseUint(maxRange, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TOKENWATCH_MAX_BLOCK_RANGE: %w", err)
		}
		c.Monitor.MaxBlockRange = val
	}

	// Storage configuration
	if backend := os.Getenv("TOKENWATCH_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if path := os.Getenv("TOKENWATCH_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}

	// Log configuration
	if level := os.Getenv("TOKENWATCH_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("TOKENWATCH_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if file := os.Getenv("TOKENWATCH_LOG_FILE"); file != "" {
		c.Log.File = file
	}

	// Notifications configuration
	if deliveryType := os.Getenv("TOKENWATCH_NOTIFICATIONS_TYPE"); deliveryType != "" {
		c.Notifications.Type = deliveryType
	}
	if secret := os.Getenv("TOKENWATCH_WEBHOOK_SECRET"); secret != "" {
		c.Notifications.WebhookSecret = secret
	}

	// API configuration
	if enabled := os.Getenv("TOKENWATCH_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid TOKENWATCH_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("TOKENWATCH_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("TOKENWATCH_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid TOKENWATCH_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if key := os.Getenv("TOKENWATCH_API_KEY"); key != "" {
		c.API.APIKey = key
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	// Validate monitor configuration
	if !common.IsHexAddress(c.Monitor.ContractAddress) {
		return fmt.Errorf("invalid contract address %q", c.Monitor.ContractAddress)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Monitor.PersistEvery <= 0 {
		return fmt.Errorf("persist_every must be positive")
	}
	if c.Monitor.MaxBackoff < c.Monitor.PollInterval {
		return fmt.Errorf("max backoff must not be shorter than the poll interval")
	}
	if c.Monitor.StopAfter < 0 {
		return fmt.Errorf("stop_after cannot be negative")
	}
	if c.Monitor.IOTimeout <= 0 {
		return fmt.Errorf("io timeout must be positive")
	}

	// Validate storage configuration
	switch c.Storage.Backend {
	case constants.StorageBackendFile, constants.StorageBackendPebble:
	default:
		return fmt.Errorf("invalid storage backend %q, must be one of: file, pebble", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate notifications configuration
	switch c.Notifications.Type {
	case constants.DeliveryTypeWebhook, constants.DeliveryTypeSlack, constants.DeliveryTypeLog:
	default:
		return fmt.Errorf("invalid notifications type %q, must be one of: webhook, slack, log", c.Notifications.Type)
	}
	if c.Notifications.MaxRetries < 0 {
		return fmt.Errorf("notification max retries cannot be negative")
	}
	if c.Notifications.MaxConcurrent <= 0 {
		return fmt.Errorf("notification max concurrent must be positive")
	}

	// Validate API configuration
	if c.API.Enabled && (c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort) {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for any missing values
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
