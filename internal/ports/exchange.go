package ports

import (
	"context"
	"time"

	"turtleAdvisor/internal/domain"
)

// MarketDataClient is the read-only view of an exchange the advisor needs.
// Implementations return klines oldest first.
type MarketDataClient interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetTickerPrice retrieves the last traded price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance retrieves the available balance for a specific asset (e.g., "USDT").
	// Requires API keys.
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// GetKlines retrieves up to limit recent klines. The newest one may still be forming;
	// its IsFinal flag tells.
	GetKlines(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]*domain.Kline, error)

	// GetKlinesRange retrieves every kline opening between start and end, paging as needed.
	GetKlinesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]*domain.Kline, error)

	// StreamKlines starts a kline stream. The handler sees every update, final or not.
	// doneCh is closed when the stream gives up; sending on stopCh stops it.
	StreamKlines(ctx context.Context, symbol string, interval domain.Interval, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
