package ports

import (
	"context"

	"turtleAdvisor/internal/domain"
)

// AdviceRepository stores advice snapshots produced by the advisor.
type AdviceRepository interface {
	// Save stores an advice and returns its assigned ID.
	Save(ctx context.Context, advice *domain.Advice) (int64, error)
	// FindLatest retrieves the most recent advice for a symbol and interval.
	// Returns nil, nil if none exists.
	FindLatest(ctx context.Context, symbol string, interval domain.Interval) (*domain.Advice, error)
	// FindBySymbol retrieves the most recent advices for a symbol, newest first, up to limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Advice, error)
}

// TradeRepository stores simulated round trips, e.g. from a backtest run.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindTradesBySymbol retrieves the most recent trades for a symbol, up to limit.
	FindTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
}
