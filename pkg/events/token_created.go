package events

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TokenCreatedSignature is the canonical signature of the launchpad event.
const TokenCreatedSignature = "TokenCreated(address,address,string,string,string,string,string,string,string,string,uint256,uint256,uint256,uint256,uint256,uint256,uint256)"

// TopicHash is keccak256(TokenCreatedSignature), topic0 of every TokenCreated log.
var TopicHash = crypto.Keccak256Hash([]byte(TokenCreatedSignature))

// Decimal scales of the event amounts.
const (
	HypeDecimals  uint8 = 18
	TokenDecimals uint8 = 6
)

const tokenCreatedABI = `[{
	"anonymous": false,
	"type": "event",
	"name": "TokenCreated",
	"inputs": [
		{"indexed": true,  "name": "token",                 "type": "address"},
		{"indexed": true,  "name": "creator",               "type": "address"},
		{"indexed": false, "name": "name",                  "type": "string"},
		{"indexed": false, "name": "symbol",                "type": "string"},
		{"indexed": false, "name": "image_uri",             "type": "string"},
		{"indexed": false, "name": "description",           "type": "string"},
		{"indexed": false, "name": "website",               "type": "string"},
		{"indexed": false, "name": "twitter",               "type": "string"},
		{"indexed": false, "name": "telegram",              "type": "string"},
		{"indexed": false, "name": "discord",               "type": "string"},
		{"indexed": false, "name": "creationTimestamp",     "type": "uint256"},
		{"indexed": false, "name": "startingLiquidity",     "type": "uint256"},
		{"indexed": false, "name": "currentHypeReserves",   "type": "uint256"},
		{"indexed": false, "name": "currentTokenReserves",  "type": "uint256"},
		{"indexed": false, "name": "totalSupply",           "type": "uint256"},
		{"indexed": false, "name": "currentPrice",          "type": "uint256"},
		{"indexed": false, "name": "initialPurchaseAmount", "type": "uint256"}
	]
}]`

// Amount is an on-chain integer with its fixed decimal scale.
type Amount struct {
	Value    *big.Int
	Decimals uint8
}

// Rat returns the scaled value, Value / 10^Decimals.
func (a Amount) Rat() *big.Rat {
	if a.Value == nil {
		return new(big.Rat)
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Decimals)), nil)
	return new(big.Rat).SetFrac(a.Value, denom)
}

// Links holds the optional social links of a token.
type Links struct {
	Website  string
	Twitter  string
	Telegram string
	Discord  string
}

// TokenCreated is a decoded TokenCreated log.
type TokenCreated struct {
	Token       common.Address
	Creator     common.Address
	Name        string
	Symbol      string
	ImageURI    string
	Description string
	Links       Links
	CreatedAt   time.Time

	StartingLiquidity     Amount
	CurrentHypeReserves   Amount
	CurrentTokenReserves  Amount
	TotalSupply           Amount
	CurrentPrice          Amount
	InitialPurchaseAmount Amount

	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Decoder turns raw logs into TokenCreated values. It is safe for concurrent use.
type Decoder struct {
	event abi.Event
}

// NewDecoder parses the TokenCreated ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(tokenCreatedABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	event, ok := parsed.Events["TokenCreated"]
	if !ok {
		return nil, fmt.Errorf("TokenCreated event missing from ABI")
	}
	if event.ID != TopicHash {
		return nil, fmt.Errorf("ABI event id %s does not match signature hash %s", event.ID.Hex(), TopicHash.Hex())
	}

	return &Decoder{event: event}, nil
}

// Decode extracts a TokenCreated event from log. Errors wrap ErrDecode.
func (d *Decoder) Decode(log types.Log) (*TokenCreated, error) {
	if len(log.Topics) != 3 {
		return nil, decodeErr(fmt.Sprintf("expected 3 topics, got %d", len(log.Topics)), nil)
	}
	if log.Topics[0] != TopicHash {
		return nil, decodeErr(fmt.Sprintf("unexpected topic0 %s", log.Topics[0].Hex()), nil)
	}

	args := make(map[string]interface{})
	if err := d.event.Inputs.NonIndexed().UnpackIntoMap(args, log.Data); err != nil {
		return nil, decodeErr("failed to unpack data", err)
	}

	f := fields{args: args}
	ev := &TokenCreated{
		Token:       common.BytesToAddress(log.Topics[1].Bytes()),
		Creator:     common.BytesToAddress(log.Topics[2].Bytes()),
		Name:        f.str("name"),
		Symbol:      f.str("symbol"),
		ImageURI:    f.str("image_uri"),
		Description: f.str("description"),
		Links: Links{
			Website:  f.str("website"),
			Twitter:  f.str("twitter"),
			Telegram: f.str("telegram"),
			Discord:  f.str("discord"),
		},

		StartingLiquidity:     Amount{Value: f.bigInt("startingLiquidity"), Decimals: HypeDecimals},
		CurrentHypeReserves:   Amount{Value: f.bigInt("currentHypeReserves"), Decimals: HypeDecimals},
		CurrentTokenReserves:  Amount{Value: f.bigInt("currentTokenReserves"), Decimals: TokenDecimals},
		TotalSupply:           Amount{Value: f.bigInt("totalSupply"), Decimals: TokenDecimals},
		CurrentPrice:          Amount{Value: f.bigInt("currentPrice"), Decimals: TokenDecimals},
		InitialPurchaseAmount: Amount{Value: f.bigInt("initialPurchaseAmount"), Decimals: TokenDecimals},

		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}

	created := f.bigInt("creationTimestamp")
	if f.err != nil {
		return nil, f.err
	}
	if !created.IsInt64() {
		return nil, decodeErr("creationTimestamp out of range", nil)
	}
	ev.CreatedAt = time.Unix(created.Int64(), 0).UTC()

	return ev, nil
}

// fields reads typed values out of an unpacked argument map, keeping the first error.
type fields struct {
	args map[string]interface{}
	err  error
}

func (f *fields) str(name string) string {
	v, ok := f.args[name]
	if !ok {
		f.fail(name, "missing")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(name, fmt.Sprintf("want string, got %T", v))
		return ""
	}
	return s
}

func (f *fields) bigInt(name string) *big.Int {
	v, ok := f.args[name]
	if !ok {
		f.fail(name, "missing")
		return new(big.Int)
	}
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		f.fail(name, fmt.Sprintf("want *big.Int, got %T", v))
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}

func (f *fields) fail(name, reason string) {
	if f.err == nil {
		f.err = decodeErr(fmt.Sprintf("field %s: %s", name, reason), nil)
	}
}
