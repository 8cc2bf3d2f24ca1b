package notify

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func sampleEvent() *events.TokenCreated {
	return &events.TokenCreated{
		Token:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Creator:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Name:        "Test Token",
		Symbol:      "TEST",
		ImageURI:    "https://example.com/test.png",
		Description: "A token for tests",
		Links: events.Links{
			Website: "https://example.com",
			Discord: "https://discord.gg/test",
		},
		CreatedAt: time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC),

		StartingLiquidity:     events.Amount{Value: new(big.Int).Mul(big.NewInt(5), pow10(18)), Decimals: 18},
		CurrentHypeReserves:   events.Amount{Value: new(big.Int).Mul(big.NewInt(6), pow10(18)), Decimals: 18},
		CurrentTokenReserves:  events.Amount{Value: big.NewInt(800_000_000_000_000), Decimals: 6},
		TotalSupply:           events.Amount{Value: big.NewInt(1_000_000_000_000_000), Decimals: 6},
		CurrentPrice:          events.Amount{Value: big.NewInt(1_234), Decimals: 6},
		InitialPurchaseAmount: events.Amount{Value: big.NewInt(2_500_500_000), Decimals: 6},

		BlockNumber: 1002,
		TxHash:      common.HexToHash("0xabc"),
		LogIndex:    4,
	}
}

func TestNewPayload(t *testing.T) {
	p := NewPayload(sampleEvent())

	assert.Equal(t, "🚀 New Token Created: Test Token (TEST)", p.Title)
	assert.Equal(t, "A token for tests", p.Description)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", p.TokenAddress)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", p.CreatorAddress)

	assert.Equal(t, "1,000,000,000.00", p.TotalSupply)
	assert.Equal(t, "$0.001234", p.CurrentPrice)
	assert.Equal(t, "2,500.50", p.InitialPurchase)
	assert.Equal(t, "5.00 HYPE", p.StartingLiquidity)
	assert.Equal(t, "6.00", p.CurrentHypeReserves)
	assert.Equal(t, "800,000,000.00", p.CurrentTokenReserves)

	assert.Equal(t, []Link{
		{Label: "Website", URL: "https://example.com"},
		{Label: "Discord", URL: "https://discord.gg/test"},
	}, p.Links)
	assert.Equal(t, "[Website](https://example.com) | [Discord](https://discord.gg/test)", p.LinksText())
	assert.Equal(t, "Created at 2025-03-01 12:30:45 UTC", p.Footer)
	assert.Equal(t, uint64(1002), p.BlockNumber)
	assert.Equal(t, uint(4), p.LogIndex)
}

func TestNewPayload_DescriptionRules(t *testing.T) {
	ev := sampleEvent()
	ev.Description = ""
	assert.Equal(t, "No description provided", NewPayload(ev).Description)

	ev.Description = strings.Repeat("é", 1200)
	got := NewPayload(ev).Description
	assert.Equal(t, 1000, len([]rune(got)))
}

func TestNewPayload_NoLinks(t *testing.T) {
	ev := sampleEvent()
	ev.Links = events.Links{}
	p := NewPayload(ev)
	assert.Empty(t, p.Links)
	assert.Equal(t, "No links provided", p.LinksText())
}

func TestFormatGrouped(t *testing.T) {
	tests := []struct {
		in   *big.Rat
		prec int
		want string
	}{
		{big.NewRat(0, 1), 2, "0.00"},
		{big.NewRat(999, 1), 2, "999.00"},
		{big.NewRat(1000, 1), 2, "1,000.00"},
		{big.NewRat(1234567, 100), 2, "12,345.67"},
		{big.NewRat(-1234567, 1), 0, "-1,234,567"},
		{new(big.Rat).SetFrac(new(big.Int).Mul(big.NewInt(123), pow10(30)), pow10(6)), 2, "123,000,000,000,000,000,000,000,000.00"},
		{big.NewRat(5, 1000), 2, "0.01"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatGrouped(tt.in, tt.prec), "formatGrouped(%s, %d)", tt.in, tt.prec)
	}
}
