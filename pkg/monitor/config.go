package monitor

import (
	"fmt"
	"time"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds poll loop configuration
type Config struct {
	// ContractAddress is the launchpad contract whose logs are queried
	ContractAddress common.Address

	// PollInterval is the fixed delay between cycles
	PollInterval time.Duration

	// PersistEvery is the number of committed cycles between checkpoint saves
	PersistEvery int

	// MaxBlockRange caps the blocks queried per cycle (0 = unlimited)
	MaxBlockRange uint64

	// MaxBackoff caps the delay after consecutive failed cycles
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each failed cycle
	BackoffMultiplier float64

	// DegradedAfter is the number of consecutive failed cycles before health degrades
	DegradedAfter int

	// StopAfter stops the loop after this many consecutive failed cycles (0 = never)
	StopAfter int

	// IOTimeout bounds each chain or state call made by a cycle
	IOTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ContractAddress:   common.HexToAddress(constants.DefaultContractAddress),
		PollInterval:      constants.DefaultPollInterval,
		PersistEvery:      constants.DefaultPersistEvery,
		MaxBackoff:        constants.DefaultMaxBackoff,
		BackoffMultiplier: constants.DefaultBackoffMultiplier,
		DegradedAfter:     constants.DefaultDegradedAfter,
		IOTimeout:         constants.DefaultIOTimeout,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ContractAddress == (common.Address{}) {
		return fmt.Errorf("contract address is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.PersistEvery <= 0 {
		return fmt.Errorf("persist every must be positive")
	}
	if c.MaxBackoff < c.PollInterval {
		return fmt.Errorf("max backoff must not be shorter than the poll interval")
	}
	if c.DegradedAfter <= 0 {
		return fmt.Errorf("degraded after must be positive")
	}
	if c.StopAfter < 0 {
		return fmt.Errorf("stop after cannot be negative")
	}
	if c.IOTimeout <= 0 {
		return fmt.Errorf("io timeout must be positive")
	}
	return nil
}

// backoff returns the delay before the next cycle after failures consecutive
// failed cycles.
func (c *Config) backoff(failures int) time.Duration {
	delay := c.PollInterval
	multiplier := c.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = constants.DefaultBackoffMultiplier
	}
	for i := 0; i < failures; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return delay
}
