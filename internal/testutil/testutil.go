package testutil

import (
	"math/big"
	"testing"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ContractAddress is the launchpad address used across tests
var ContractAddress = common.HexToAddress("0xDEC3540f5BA6f2aa3764583A9c29501FeB020030")

// NewTestLogger creates a development logger for tests
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

// TokenLog describes the contents of a synthetic TokenCreated log
type TokenLog struct {
	Token       common.Address
	Creator     common.Address
	Name        string
	Symbol      string
	ImageURI    string
	Description string
	Website     string
	Twitter     string
	Telegram    string
	Discord     string
	CreatedAt   time.Time

	StartingLiquidity     *big.Int
	CurrentHypeReserves   *big.Int
	CurrentTokenReserves  *big.Int
	TotalSupply           *big.Int
	CurrentPrice          *big.Int
	InitialPurchaseAmount *big.Int

	BlockNumber uint64
	Index       uint
}

// DefaultTokenLog returns a fully populated TokenLog at the given block
func DefaultTokenLog(blockNumber uint64) TokenLog {
	return TokenLog{
		Token:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Creator:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Name:        "Test Token",
		Symbol:      "TEST",
		ImageURI:    "https://example.com/test.png",
		Description: "A token for tests",
		Website:     "https://example.com",
		Twitter:     "https://x.com/test",
		CreatedAt:   time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC),

		StartingLiquidity:     ether(5),
		CurrentHypeReserves:   ether(6),
		CurrentTokenReserves:  big.NewInt(800_000_000_000_000),
		TotalSupply:           big.NewInt(1_000_000_000_000_000),
		CurrentPrice:          big.NewInt(1_234),
		InitialPurchaseAmount: big.NewInt(2_500_500_000),

		BlockNumber: blockNumber,
	}
}

// NewTokenCreatedLog ABI-encodes l as a TokenCreated log emitted by ContractAddress
func NewTokenCreatedLog(t *testing.T, l TokenLog) types.Log {
	t.Helper()

	data, err := nonIndexedArgs(t).Pack(
		l.Name, l.Symbol, l.ImageURI, l.Description,
		l.Website, l.Twitter, l.Telegram, l.Discord,
		big.NewInt(l.CreatedAt.Unix()),
		orZero(l.StartingLiquidity),
		orZero(l.CurrentHypeReserves),
		orZero(l.CurrentTokenReserves),
		orZero(l.TotalSupply),
		orZero(l.CurrentPrice),
		orZero(l.InitialPurchaseAmount),
	)
	if err != nil {
		t.Fatalf("Failed to pack TokenCreated data: %v", err)
	}

	return types.Log{
		Address: ContractAddress,
		Topics: []common.Hash{
			events.TopicHash,
			common.BytesToHash(l.Token.Bytes()),
			common.BytesToHash(l.Creator.Bytes()),
		},
		Data:        data,
		BlockNumber: l.BlockNumber,
		TxHash:      crypto.Keccak256Hash(new(big.Int).SetUint64(l.BlockNumber).Bytes(), []byte{byte(l.Index)}),
		Index:       l.Index,
	}
}

func nonIndexedArgs(t *testing.T) abi.Arguments {
	t.Helper()

	stringT, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("Failed to build string type: %v", err)
	}
	uintT, err := abi.NewType("uint256", "", nil)
	if err != nil {
		t.Fatalf("Failed to build uint256 type: %v", err)
	}

	args := make(abi.Arguments, 0, 15)
	for i := 0; i < 8; i++ {
		args = append(args, abi.Argument{Type: stringT})
	}
	for i := 0; i < 7; i++ {
		args = append(args, abi.Argument{Type: uintT})
	}
	return args
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
