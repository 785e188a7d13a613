package ports

import (
	"context"

	"turtleAdvisor/internal/domain"
)

// Strategy turns a window of closed klines into advice.
type Strategy interface {
	// Name identifies the strategy in logs and reports.
	Name() string

	// RequiredDataPoints returns the minimum number of klines needed for the strategy calculations.
	RequiredDataPoints() int

	// Advise evaluates the window and returns sizing and levels for an entry at currentPrice.
	// ok is false when the window is too short to evaluate.
	Advise(ctx context.Context, klines []*domain.Kline, currentPrice, equity float64) (advice *domain.Advice, ok bool)

	// ShouldClosePosition decides if an open position should be closed.
	ShouldClosePosition(ctx context.Context, position *domain.Position, klines []*domain.Kline, currentPrice float64) (bool, domain.CloseReason)
}
