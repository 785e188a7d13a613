package strategy

import (
	"context"
	"fmt"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
	"turtleAdvisor/internal/risk"
	"turtleAdvisor/internal/strategy/indicators"
	"turtleAdvisor/internal/strategy/turtle"
)

// Name is the strategy name used in logs and reports.
const Name = "turtle"

// Config holds parameters for the turtle strategy.
type Config struct {
	Params    turtle.Params // Channel periods, threshold and volume filter
	ATRPeriod int           // Wilder smoothing period for N, e.g. 20
	Risk      risk.Config   // Sizing and exit levels
}

// DefaultConfig returns System 1 channels, a 20-bar N and 1% risk per N.
func DefaultConfig() Config {
	return Config{
		Params:    turtle.DefaultParams(),
		ATRPeriod: 20,
		Risk: risk.Config{
			RiskPercent:         1,
			SizePrecisionDigits: 3,
			TakeProfitMultiple:  4,
		},
	}
}

// Strategy implements ports.Strategy with Donchian breakouts sized by N.
type Strategy struct {
	cfg    Config
	logger ports.Logger
	atr    *indicators.ATR
	risk   *risk.Calculator
}

var _ ports.Strategy = (*Strategy)(nil)

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy parameters: %w", err)
	}
	if cfg.ATRPeriod < 1 {
		return nil, fmt.Errorf("%w: ATR period must be positive, got %d", ports.ErrInvalidRequest, cfg.ATRPeriod)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	return &Strategy{
		cfg:    cfg,
		logger: logger,
		atr:    indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
		risk:   risk.NewCalculator(cfg.Risk),
	}, nil
}

// Name returns the strategy name.
func (s *Strategy) Name() string { return Name }

// Config returns the strategy configuration.
func (s *Strategy) Config() Config { return s.cfg }

// RequiredDataPoints returns the minimum number of klines needed for the strategy calculations.
// The channels need one bar more than their period because they are measured on the
// bars before the one being graded.
func (s *Strategy) RequiredDataPoints() int {
	return max(s.cfg.Params.RequiredBars(), s.atr.RequiredDataPoints())
}

// Advise grades the newest closed bar and, when it is an entry, sizes it at
// currentPrice. A non-positive currentPrice falls back to the last close.
func (s *Strategy) Advise(ctx context.Context, klines []*domain.Kline, currentPrice, equity float64) (*domain.Advice, bool) {
	required := s.RequiredDataPoints()
	if len(klines) < required {
		s.logger.Debug(ctx, "Not enough kline data for strategy evaluation",
			map[string]interface{}{"available": len(klines), "required": required})
		return nil, false
	}

	n, err := s.atr.Calculate(ctx, klines)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate ATR")
		return nil, false
	}

	eval, ok := turtle.Evaluate(klines, n, s.cfg.Params)
	if !ok {
		s.logger.Debug(ctx, "Evaluation produced no result", map[string]interface{}{"available": len(klines)})
		return nil, false
	}

	last := klines[len(klines)-1]
	price := currentPrice
	if price <= 0 {
		price = eval.Close
	}
	advice := &domain.Advice{
		Symbol:       last.Symbol,
		Interval:     last.Interval,
		BarCloseTime: last.CloseTime,
		Price:        price,
		Evaluation:   eval,
	}

	if !eval.Actionable() {
		s.logger.Debug(ctx, "No entry on last closed bar", map[string]interface{}{
			"tag":        eval.Tag,
			"close":      eval.Close,
			"entryUpper": eval.EntryBands.Upper,
			"entryLower": eval.EntryBands.Lower,
			"n":          n,
		})
		return advice, true
	}

	advice.Size = s.risk.Size(equity, n, price)
	if levels, ok := s.risk.Levels(price, n, eval.Direction, s.trailingExit(klines, eval.Direction)); ok {
		advice.Levels = levels
	}

	fields := map[string]interface{}{
		"tag":        eval.Tag,
		"suggestion": string(eval.Suggestion),
		"price":      price,
		"n":          n,
		"size":       advice.Size,
		"stopLoss":   advice.Levels.StopLoss,
	}
	if advice.Levels.TakeProfit != nil {
		fields["takeProfit"] = *advice.Levels.TakeProfit
	}
	if eval.VolumeRatio != nil {
		fields["volumeRatio"] = *eval.VolumeRatio
	}
	s.logger.Info(ctx, "Breakout entry conditions met", fields)
	return advice, true
}

// trailingExit is the exit-period channel edge a position in dir would leave through.
func (s *Strategy) trailingExit(klines []*domain.Kline, dir domain.Direction) *float64 {
	bands, ok := indicators.DonchianLast(klines, s.cfg.Params.ExitPeriod)
	if !ok {
		return nil
	}
	switch dir {
	case domain.DirectionLong:
		return &bands.Lower
	case domain.DirectionShort:
		return &bands.Upper
	default:
		return nil
	}
}

// ShouldClosePosition checks, in order, the stop-loss, the take-profit and a close
// through the exit-period channel of the bars before the last one.
func (s *Strategy) ShouldClosePosition(ctx context.Context, position *domain.Position, klines []*domain.Kline, currentPrice float64) (bool, domain.CloseReason) {
	if position == nil || !position.IsOpen() {
		return false, ""
	}

	long := position.IsLong()
	fields := map[string]interface{}{"positionID": position.ID, "side": string(position.Side), "currentPrice": currentPrice}

	if position.StopLoss > 0 && ((long && currentPrice <= position.StopLoss) || (!long && currentPrice >= position.StopLoss)) {
		fields["stopLoss"] = position.StopLoss
		s.logger.Info(ctx, "Stop loss condition met", fields)
		return true, domain.CloseReasonStopLoss
	}
	if position.TakeProfit > 0 && ((long && currentPrice >= position.TakeProfit) || (!long && currentPrice <= position.TakeProfit)) {
		fields["takeProfit"] = position.TakeProfit
		s.logger.Info(ctx, "Take profit condition met", fields)
		return true, domain.CloseReasonTakeProfit
	}

	if len(klines) < 2 {
		return false, ""
	}
	bands, ok := indicators.Donchian(klines, s.cfg.Params.ExitPeriod, len(klines)-2)
	if !ok {
		return false, ""
	}
	close := klines[len(klines)-1].Close
	if (long && close < bands.Lower) || (!long && close > bands.Upper) {
		fields["close"] = close
		fields["exitUpper"] = bands.Upper
		fields["exitLower"] = bands.Lower
		s.logger.Info(ctx, "Exit channel breached", fields)
		return true, domain.CloseReasonExitChannel
	}

	return false, ""
}
