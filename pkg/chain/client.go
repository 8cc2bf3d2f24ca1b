package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// connectAttempts is the number of dial attempts made by Connect.
const connectAttempts = 2

// Backend is the subset of the JSON-RPC API the client uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// Dialer opens a Backend for an endpoint.
type Dialer func(ctx context.Context, endpoint string) (Backend, error)

// DialEthClient dials endpoint with go-ethereum's rpc package.
func DialEthClient(ctx context.Context, endpoint string) (Backend, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rpcClient), nil
}

// Config holds client configuration
type Config struct {
	Endpoint string
	// Timeout bounds every single RPC call (0 = caller's context only)
	Timeout time.Duration
	Logger  *zap.Logger
	// Dialer defaults to DialEthClient
	Dialer Dialer
}

// Client is a reconnecting JSON-RPC client for height and log queries.
type Client struct {
	endpoint string
	timeout  time.Duration
	dial     Dialer
	logger   *zap.Logger

	mu      sync.RWMutex
	backend Backend

	healthy atomic.Bool
	closed  atomic.Bool
}

// NewClient creates a client. It does not dial; call Connect.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dial := cfg.Dialer
	if dial == nil {
		dial = DialEthClient
	}

	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		dial:     dial,
		logger:   logger.Named("chain"),
	}, nil
}

// Endpoint returns the RPC endpoint
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connect dials the endpoint and verifies it answers, trying twice before
// giving up with a connection error.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		lastErr = c.Reconnect(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrClosed) {
			return lastErr
		}
		c.logger.Warn("connect attempt failed",
			zap.String("endpoint", c.endpoint),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

// Reconnect drops the current connection and makes a single dial attempt.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.closed.Load() {
		return &Error{Op: "connect", Kind: ErrConnection, Err: ErrClosed}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
	c.healthy.Store(false)

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	backend, err := c.dial(callCtx, c.endpoint)
	if err != nil {
		return &Error{Op: "connect", Kind: ErrConnection, Err: err}
	}

	// Dialing HTTP endpoints is lazy, so ask for something cheap.
	if _, err := backend.BlockNumber(callCtx); err != nil {
		backend.Close()
		return &Error{Op: "connect", Kind: ErrConnection, Err: err}
	}

	c.backend = backend
	c.healthy.Store(true)

	c.logger.Info("connected to RPC endpoint", zap.String("endpoint", c.endpoint))
	return nil
}

// IsHealthy reports whether the last call reached the node.
func (c *Client) IsHealthy() bool {
	return !c.closed.Load() && c.healthy.Load()
}

// ChainID returns the chain ID reported by the node
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.call(ctx, "chain id", func(ctx context.Context, b Backend) error {
		var err error
		id, err = b.ChainID(ctx)
		return err
	})
	return id, err
}

// CurrentHeight returns the latest block number
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, "block number", func(ctx context.Context, b Backend) error {
		var err error
		height, err = b.BlockNumber(ctx)
		return err
	})
	return height, err
}

// FetchLogs returns the logs emitted by address with topic0 == topic within r.
func (c *Client) FetchLogs(ctx context.Context, address common.Address, topic common.Hash, r BlockRange) ([]types.Log, error) {
	if r.Empty() {
		return nil, nil
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}

	var logs []types.Log
	err := c.call(ctx, "filter logs "+r.String(), func(ctx context.Context, b Backend) error {
		var err error
		logs, err = b.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// Close closes the client connection
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		c.backend.Close()
		c.backend = nil
	}
	c.healthy.Store(false)
}

// call runs fn against the current backend. A connection-class failure marks
// the client unhealthy and is followed by exactly one reconnect and retry.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context, b Backend) error) error {
	if c.closed.Load() {
		return &Error{Op: op, Kind: ErrConnection, Err: ErrClosed}
	}

	err := c.invoke(ctx, op, fn)
	if err == nil || !IsConnectionError(err) {
		return err
	}

	c.healthy.Store(false)
	c.logger.Warn("rpc call failed, reconnecting",
		zap.String("op", op),
		zap.Error(err),
	)

	if rerr := c.Reconnect(ctx); rerr != nil {
		c.logger.Warn("reconnect failed", zap.String("op", op), zap.Error(rerr))
		return err
	}

	if err := c.invoke(ctx, op, fn); err != nil {
		if IsConnectionError(err) {
			c.healthy.Store(false)
		}
		return err
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, op string, fn func(ctx context.Context, b Backend) error) error {
	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	if backend == nil {
		return &Error{Op: op, Kind: ErrConnection, Err: errors.New("not connected")}
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := fn(callCtx, backend); err != nil {
		return classify(op, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}
