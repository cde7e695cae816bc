package bridge

import (
	"context"

	"go.uber.org/zap"
)

// ExternalLedger mirrors local holdings mutations for materials that
// are flagged as bridged. Calls are made best-effort after the local
// write commits, never before, and must be atomic on the remote side.
type ExternalLedger interface {
	Mint(ctx context.Context, accountID, materialID, amount int64) error
	Burn(ctx context.Context, accountID, materialID, amount int64) error
}

// LogOnly is the default bridge: it records mirror intents and always
// succeeds. Deployments that bridge to a real chain drop in their own
// ExternalLedger.
type LogOnly struct {
	logger *zap.Logger
}

// NewLogOnly creates a LogOnly bridge.
func NewLogOnly(logger *zap.Logger) *LogOnly {
	return &LogOnly{logger: logger}
}

func (b *LogOnly) Mint(_ context.Context, accountID, materialID, amount int64) error {
	b.logger.Debug("bridge mint",
		zap.Int64("account_id", accountID),
		zap.Int64("material_id", materialID),
		zap.Int64("amount", amount))
	return nil
}

func (b *LogOnly) Burn(_ context.Context, accountID, materialID, amount int64) error {
	b.logger.Debug("bridge burn",
		zap.Int64("account_id", accountID),
		zap.Int64("material_id", materialID),
		zap.Int64("amount", amount))
	return nil
}
