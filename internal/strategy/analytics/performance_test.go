package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turtleAdvisor/internal/domain"
)

var base = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func trade(id int64, side domain.Direction, quality domain.Quality, pnl float64, exitAfter time.Duration, reason domain.CloseReason) *domain.Trade {
	return &domain.Trade{
		PositionID:  id,
		Symbol:      "BTCUSDT",
		Side:        side,
		Quality:     quality,
		EntryPrice:  50000,
		Quantity:    0.1,
		Leverage:    1,
		PNL:         pnl,
		EntryTime:   base.Add(exitAfter - 6*time.Hour),
		ExitTime:    base.Add(exitAfter),
		CloseReason: reason,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	initialBalance := 10000.0
	trades := []*domain.Trade{
		trade(2, domain.DirectionShort, domain.QualitySub, -1000, 12*time.Hour, domain.CloseReasonStopLoss),
		trade(1, domain.DirectionLong, domain.QualityTrue, 1000, 6*time.Hour, domain.CloseReasonTakeProfit),
	}

	metrics := AnalyzePerformance(trades, initialBalance)

	assert.Equal(t, 2, metrics.TotalTrades)
	assert.Equal(t, 1, metrics.WinningTrades)
	assert.Equal(t, 1, metrics.LosingTrades)
	assert.Equal(t, 0.5, metrics.WinRate)
	assert.Equal(t, 0.0, metrics.TotalProfit)
	assert.Equal(t, initialBalance, metrics.FinalBalance)
	assert.Equal(t, 1, metrics.MaxConsecutiveWins)
	assert.Equal(t, 1, metrics.MaxConsecutiveLosses)
	assert.Equal(t, 1000.0, metrics.AverageWin)
	assert.Equal(t, -1000.0, metrics.AverageLoss)
	assert.Equal(t, 1.0, metrics.ProfitFactor)
	assert.Equal(t, 1.0, metrics.RiskRewardRatio)
	assert.Equal(t, 6*time.Hour, metrics.AverageTradeDuration)
	assert.Len(t, metrics.EquityCurve, 2)
	assert.Equal(t, 11000.0, metrics.EquityCurve[0].Value, "trades are replayed in exit order")
	assert.Len(t, metrics.GetMonthlyReturns(), 1)

	assert.Equal(t, int64(2), trades[0].PositionID, "input order is preserved")
}

func TestAnalyzePerformanceEmptyTrades(t *testing.T) {
	metrics := AnalyzePerformance([]*domain.Trade{}, 10000.0)
	assert.Equal(t, 0, metrics.TotalTrades)
	assert.Equal(t, 10000.0, metrics.FinalBalance)
	assert.Zero(t, metrics.WinRate)
	assert.Empty(t, metrics.ByQuality)
}

func TestAnalyzePerformanceDrawdown(t *testing.T) {
	trades := []*domain.Trade{
		trade(1, domain.DirectionLong, domain.QualityTrue, 1000, 6*time.Hour, domain.CloseReasonTakeProfit),
		trade(2, domain.DirectionLong, domain.QualityTrue, -2200, 18*time.Hour, domain.CloseReasonStopLoss),
	}

	metrics := AnalyzePerformance(trades, 10000.0)

	assert.InDelta(t, 0.2, metrics.MaxDrawdown, 1e-12)
	require.Len(t, metrics.Drawdowns, 1)
	assert.InDelta(t, 0.2, metrics.Drawdowns[0].Depth, 1e-12)
	assert.Equal(t, 11000.0, metrics.Drawdowns[0].StartValue)
	assert.InDelta(t, -1200.0/(10000*0.2), metrics.RecoveryFactor, 1e-12)
}

func TestAnalyzePerformanceConsecutiveTrades(t *testing.T) {
	trades := []*domain.Trade{
		trade(1, domain.DirectionLong, domain.QualityTrue, 1000, 6*time.Hour, domain.CloseReasonTakeProfit),
		trade(2, domain.DirectionLong, domain.QualityTrue, 1000, 18*time.Hour, domain.CloseReasonExitChannel),
	}

	metrics := AnalyzePerformance(trades, 10000.0)

	assert.Equal(t, 2, metrics.MaxConsecutiveWins)
	assert.Equal(t, 0, metrics.MaxConsecutiveLosses)
	assert.Equal(t, 1.0, metrics.WinRate)
	assert.Zero(t, metrics.ProfitFactor)
	assert.Empty(t, metrics.Drawdowns)
}

func TestAnalyzePerformanceBreakdowns(t *testing.T) {
	trades := []*domain.Trade{
		trade(1, domain.DirectionLong, domain.QualityTrue, 300, 6*time.Hour, domain.CloseReasonTakeProfit),
		trade(2, domain.DirectionLong, domain.QualitySub, -100, 12*time.Hour, domain.CloseReasonStopLoss),
		trade(3, domain.DirectionShort, domain.QualityTrue, 100, 18*time.Hour, domain.CloseReasonExitChannel),
		trade(4, domain.DirectionShort, domain.QualitySub, 50, 24*time.Hour, domain.CloseReasonExitChannel),
	}

	metrics := AnalyzePerformance(trades, 10000.0)

	require.Contains(t, metrics.ByQuality, domain.QualityTrue)
	trueBreakouts := metrics.ByQuality[domain.QualityTrue]
	assert.Equal(t, 2, trueBreakouts.Trades)
	assert.Equal(t, 1.0, trueBreakouts.WinRate)
	assert.Equal(t, 400.0, trueBreakouts.TotalProfit)
	assert.Equal(t, 200.0, trueBreakouts.AverageProfit)

	sub := metrics.ByQuality[domain.QualitySub]
	require.NotNil(t, sub)
	assert.Equal(t, 0.5, sub.WinRate)
	assert.Equal(t, -50.0, sub.TotalProfit)

	assert.Equal(t, 200.0, metrics.ByDirection[domain.DirectionLong].TotalProfit)
	assert.Equal(t, 150.0, metrics.ByDirection[domain.DirectionShort].TotalProfit)
	assert.Equal(t, 2, metrics.ByReason[domain.CloseReasonExitChannel])
	assert.Equal(t, 1, metrics.ByReason[domain.CloseReasonStopLoss])

	assert.InDelta(t, 450.0/100.0, metrics.ProfitFactor, 1e-12)
	assert.NotZero(t, metrics.SharpeRatio)
}
