package usecase

import (
	"context"
	"time"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"go.uber.org/zap"
)

const journalWriteTimeout = 5 * time.Second

// RecordToJournal persists every order update, partial close and closed
// position the engine reports. Write failures are logged and never reach the engine.
func RecordToJournal(engine *PaperEngine, journal domain.TradeJournal, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine.OnOrderUpdate(func(o domain.Order) {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if err := journal.SaveOrder(ctx, &o); err != nil {
			logger.Error("Failed to journal order", zap.String("id", o.ID), zap.Error(err))
		}
	})
	engine.OnPositionClosed(func(c domain.ClosedPosition) {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if err := journal.SaveClosedPosition(ctx, &c); err != nil {
			logger.Error("Failed to journal closed position", zap.String("id", c.ID), zap.Error(err))
		}
	})
	engine.OnPositionReduced(func(r domain.PositionReduction) {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if err := journal.SaveReduction(ctx, &r); err != nil {
			logger.Error("Failed to journal reduction", zap.String("position", r.PositionID), zap.Error(err))
		}
	})
}
