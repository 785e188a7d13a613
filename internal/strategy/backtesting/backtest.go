package backtesting

import (
	"context"
	"fmt"
	"math"
	"time"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
)

// DefaultScaleInFraction is the share of the suggested size taken on a sub-quality breakout.
const DefaultScaleInFraction = 0.5

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	StartTime       time.Time // Bars opening before this only warm up the indicators
	EndTime         time.Time // Bars opening after this are ignored; zero means no limit
	InitialFunds    float64
	Symbol          string
	Leverage        int
	ScaleInFraction float64 // Fraction of the advised size for sub breakouts; 0 means DefaultScaleInFraction
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	MaxDrawdown        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	SharpeRatio        float64
	FinalBalance       float64
	ReturnOnInvestment float64
	Trades             []*domain.Trade
}

// Backtest replays klines bar by bar through strategy. On every bar an open
// position is checked for exit first; when flat, the strategy is asked for
// advice with the current balance as equity. A position still open after the
// last bar is closed at its close.
func Backtest(ctx context.Context, strategy ports.Strategy, klines []*domain.Kline, config BacktestConfig) (*BacktestResult, error) {
	required := strategy.RequiredDataPoints()
	if len(klines) < required {
		return nil, fmt.Errorf("%w: not enough data points for strategy %s: have %d, need %d",
			ports.ErrInsufficientData, strategy.Name(), len(klines), required)
	}
	if config.InitialFunds <= 0 {
		return nil, fmt.Errorf("%w: initial funds must be positive", ports.ErrInvalidRequest)
	}
	scaleIn := config.ScaleInFraction
	if scaleIn <= 0 {
		scaleIn = DefaultScaleInFraction
	}
	leverage := config.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	result := &BacktestResult{FinalBalance: config.InitialFunds}
	peakBalance := config.InitialFunds
	var currentPosition *domain.Position
	var nextID int64

	closePosition := func(bar *domain.Kline, reason domain.CloseReason) {
		pnl := calculatePNL(currentPosition, bar.Close)
		result.FinalBalance += pnl

		if result.FinalBalance > peakBalance {
			peakBalance = result.FinalBalance
		}
		if drawdown := (peakBalance - result.FinalBalance) / peakBalance; drawdown > result.MaxDrawdown {
			result.MaxDrawdown = drawdown
		}

		result.Trades = append(result.Trades, &domain.Trade{
			ID:          int64(len(result.Trades) + 1),
			PositionID:  currentPosition.ID,
			Symbol:      currentPosition.Symbol,
			Side:        currentPosition.Side,
			Quality:     currentPosition.Quality,
			EntryPrice:  currentPosition.EntryPrice,
			ExitPrice:   bar.Close,
			Quantity:    currentPosition.Quantity,
			Leverage:    currentPosition.Leverage,
			PNL:         pnl,
			EntryTime:   currentPosition.EntryTime,
			ExitTime:    bar.CloseTime,
			CloseReason: reason,
		})
		currentPosition = nil
	}

	var lastBar *domain.Kline
	for i := required - 1; i < len(klines); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
		}
		bar := klines[i]
		if !config.StartTime.IsZero() && bar.OpenTime.Before(config.StartTime) {
			continue
		}
		if !config.EndTime.IsZero() && bar.OpenTime.After(config.EndTime) {
			break
		}
		lastBar = bar
		history := klines[:i+1]

		if currentPosition != nil {
			if shouldClose, reason := strategy.ShouldClosePosition(ctx, currentPosition, history, bar.Close); shouldClose {
				closePosition(bar, reason)
			}
			continue
		}

		advice, ok := strategy.Advise(ctx, history, bar.Close, result.FinalBalance)
		if !ok || !advice.Evaluation.Actionable() || advice.Size <= 0 {
			continue
		}
		quantity := advice.Size
		if advice.Evaluation.Quality == domain.QualitySub {
			quantity *= scaleIn
		}
		nextID++
		currentPosition = &domain.Position{
			ID:         nextID,
			Symbol:     config.Symbol,
			Side:       advice.Evaluation.Direction,
			Quality:    advice.Evaluation.Quality,
			EntryPrice: bar.Close,
			Quantity:   quantity,
			Leverage:   leverage,
			StopLoss:   advice.Levels.StopLoss,
			EntryTime:  bar.CloseTime,
			Status:     domain.StatusOpen,
		}
		if advice.Levels.TakeProfit != nil {
			currentPosition.TakeProfit = *advice.Levels.TakeProfit
		}
	}

	if currentPosition != nil && lastBar != nil {
		closePosition(lastBar, domain.CloseReasonEndOfData)
	}

	summarize(result, config.InitialFunds)
	return result, nil
}

func summarize(result *BacktestResult, initialFunds float64) {
	var grossWin, grossLoss float64
	returns := make([]float64, 0, len(result.Trades))
	for _, trade := range result.Trades {
		result.TotalProfit += trade.PNL
		if trade.PNL > 0 {
			result.WinningTrades++
			grossWin += trade.PNL
		} else {
			result.LosingTrades++
			grossLoss += trade.PNL
		}
		if notional := trade.EntryPrice * trade.Quantity; notional > 0 {
			returns = append(returns, trade.PNL/notional)
		}
	}

	result.TotalTrades = len(result.Trades)
	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades)
	}
	if result.WinningTrades > 0 {
		result.AverageWin = grossWin / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AverageLoss = grossLoss / float64(result.LosingTrades)
	}
	if grossLoss != 0 {
		result.ProfitFactor = grossWin / -grossLoss
	}
	result.ReturnOnInvestment = (result.FinalBalance - initialFunds) / initialFunds
	result.SharpeRatio = calculateSharpeRatio(returns)
}

// calculatePNL calculates the profit/loss for a position
func calculatePNL(position *domain.Position, currentPrice float64) float64 {
	return position.UnrealizedPNL(currentPrice)
}

// calculateSharpeRatio calculates the per-trade Sharpe ratio, assuming a risk-free rate of 0
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
