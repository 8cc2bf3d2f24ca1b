package notify

import (
	"context"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"go.uber.org/zap"
)

// LogDeliverer writes payloads to the logger instead of sending them.
type LogDeliverer struct {
	logger *zap.Logger
}

// NewLogDeliverer creates a log-only deliverer.
func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeliverer{logger: logger.Named("delivery")}
}

// Type returns the delivery type.
func (d *LogDeliverer) Type() string {
	return constants.DeliveryTypeLog
}

// Deliver logs p. It never fails.
func (d *LogDeliverer) Deliver(ctx context.Context, dest storage.Destination, p *Payload) error {
	d.logger.Info(p.Title,
		zap.String("destination", string(dest)),
		zap.String("token", p.TokenAddress),
		zap.String("creator", p.CreatorAddress),
		zap.String("total_supply", p.TotalSupply),
		zap.String("current_price", p.CurrentPrice),
		zap.String("starting_liquidity", p.StartingLiquidity),
		zap.String("links", p.LinksText()),
		zap.Uint64("block", p.BlockNumber),
		zap.String("tx", p.TxHash),
	)
	return nil
}
