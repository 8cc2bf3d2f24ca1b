package notify

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/dustin/go-humanize"
)

// EventTypeTokenCreated is the event type carried in delivered payloads.
const EventTypeTokenCreated = "token_created"

const noDescription = "No description provided"

// Link is a labelled URL.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Payload is the formatted, delivery-ready view of one TokenCreated event.
// It is built once per event and shared read-only by every delivery.
type Payload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`

	TokenAddress   string `json:"token_address"`
	CreatorAddress string `json:"creator_address"`

	TotalSupply     string `json:"total_supply"`
	CurrentPrice    string `json:"current_price"`
	InitialPurchase string `json:"initial_purchase"`

	StartingLiquidity    string `json:"starting_liquidity"`
	CurrentHypeReserves  string `json:"current_hype_reserves"`
	CurrentTokenReserves string `json:"current_token_reserves"`

	Links    []Link    `json:"links"`
	ImageURI string    `json:"image_uri,omitempty"`
	Created  time.Time `json:"created_at"`
	Footer   string    `json:"footer"`

	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
}

// NewPayload formats ev for delivery.
func NewPayload(ev *events.TokenCreated) *Payload {
	return &Payload{
		Title:       fmt.Sprintf("🚀 New Token Created: %s (%s)", ev.Name, ev.Symbol),
		Description: describe(ev.Description),
		Name:        ev.Name,
		Symbol:      ev.Symbol,

		TokenAddress:   ev.Token.Hex(),
		CreatorAddress: ev.Creator.Hex(),

		TotalSupply:     formatGrouped(ev.TotalSupply.Rat(), 2),
		CurrentPrice:    "$" + ev.CurrentPrice.Rat().FloatString(6),
		InitialPurchase: formatGrouped(ev.InitialPurchaseAmount.Rat(), 2),

		StartingLiquidity:    ev.StartingLiquidity.Rat().FloatString(2) + " HYPE",
		CurrentHypeReserves:  ev.CurrentHypeReserves.Rat().FloatString(2),
		CurrentTokenReserves: formatGrouped(ev.CurrentTokenReserves.Rat(), 2),

		Links:    links(ev.Links),
		ImageURI: ev.ImageURI,
		Created:  ev.CreatedAt,
		Footer:   "Created at " + ev.CreatedAt.UTC().Format("2006-01-02 15:04:05") + " UTC",

		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    ev.LogIndex,
	}
}

// LinksText renders the links as "[Label](url) | ..." or a placeholder.
func (p *Payload) LinksText() string {
	if len(p.Links) == 0 {
		return "No links provided"
	}
	parts := make([]string, len(p.Links))
	for i, l := range p.Links {
		parts[i] = fmt.Sprintf("[%s](%s)", l.Label, l.URL)
	}
	return strings.Join(parts, " | ")
}

func describe(s string) string {
	if s == "" {
		return noDescription
	}
	r := []rune(s)
	if len(r) > constants.MaxDescriptionLength {
		return string(r[:constants.MaxDescriptionLength])
	}
	return s
}

func links(l events.Links) []Link {
	var out []Link
	for _, c := range []Link{
		{Label: "Website", URL: l.Website},
		{Label: "Twitter", URL: l.Twitter},
		{Label: "Telegram", URL: l.Telegram},
		{Label: "Discord", URL: l.Discord},
	} {
		if c.URL != "" {
			out = append(out, c)
		}
	}
	return out
}

// formatGrouped renders r with prec decimals and comma-grouped thousands,
// without going through float64.
func formatGrouped(r *big.Rat, prec int) string {
	s := r.FloatString(prec)

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	n, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return s
	}
	grouped := humanize.BigComma(n)
	if n.Sign() == 0 && strings.HasPrefix(intPart, "-") {
		grouped = "-" + grouped
	}
	return grouped + frac
}
