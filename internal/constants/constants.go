package constants

import "time"

// Chain defaults
const (
	// DefaultRPCEndpoint is the public HyperEVM JSON-RPC endpoint
	DefaultRPCEndpoint = "https://rpc.hyperliquid.xyz/evm"

	// DefaultContractAddress is the launchpad contract emitting TokenCreated
	DefaultContractAddress = "0xDEC3540f5BA6f2aa3764583A9c29501FeB020030"

	// DefaultRPCTimeout bounds a single RPC call
	DefaultRPCTimeout = 30 * time.Second
)

// Monitor defaults
const (
	// DefaultPollInterval is the fixed cadence of the poll loop
	DefaultPollInterval = 10 * time.Second

	// DefaultPersistEvery is how many committed cycles pass between checkpoint saves
	DefaultPersistEvery = 10

	// DefaultMaxBackoff caps the sleep after consecutive failed cycles
	DefaultMaxBackoff = 5 * time.Minute

	// DefaultBackoffMultiplier grows the sleep after each failed cycle
	DefaultBackoffMultiplier = 2.0

	// DefaultDegradedAfter is the number of consecutive failed cycles before
	// the monitor reports degraded health
	DefaultDegradedAfter = 6

	// DefaultIOTimeout bounds each chain or state call of a poll cycle
	DefaultIOTimeout = time.Minute
)

// Storage defaults
const (
	// StorageBackendFile keeps monitor state in a single JSON document
	StorageBackendFile = "file"

	// StorageBackendPebble keeps monitor state in a PebbleDB directory
	StorageBackendPebble = "pebble"

	// DefaultStatePath is the default location of the JSON state file
	DefaultStatePath = "config/token_monitor.json"
)

// Notification defaults
const (
	// DeliveryTypeWebhook posts signed JSON payloads
	DeliveryTypeWebhook = "webhook"

	// DeliveryTypeSlack posts Slack incoming-webhook messages
	DeliveryTypeSlack = "slack"

	// DeliveryTypeLog writes payloads to the log only
	DeliveryTypeLog = "log"

	// DefaultDeliveryTimeout bounds a single delivery request
	DefaultDeliveryTimeout = 10 * time.Second

	// DefaultDeliveryMaxRetries is the number of extra delivery attempts
	DefaultDeliveryMaxRetries = 2

	// DefaultDeliveryRetryDelay is the first delay between delivery attempts
	DefaultDeliveryRetryDelay = 500 * time.Millisecond

	// DefaultMaxConcurrentDeliveries bounds fan-out across tenants
	DefaultMaxConcurrentDeliveries = 8

	// DefaultSlackRateLimitPerMinute matches Slack's incoming-webhook guidance
	DefaultSlackRateLimitPerMinute = 60

	// DefaultSignatureHeader carries the webhook HMAC signature
	DefaultSignatureHeader = "X-Signature-256"

	// MaxDescriptionLength truncates event descriptions in notifications
	MaxDescriptionLength = 1000
)

// API server defaults
const (
	// DefaultAPIHost is the default control API host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default control API port
	DefaultAPIPort = 8080

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultRateLimitPerSecond is the default per-IP request rate
	DefaultRateLimitPerSecond = 20

	// DefaultRateLimitBurst is the default per-IP burst size
	DefaultRateLimitBurst = 40

	// MinPort is the lowest valid listen port
	MinPort = 1

	// MaxPort is the highest valid listen port
	MaxPort = 65535
)
