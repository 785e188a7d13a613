// Package risk sizes positions in volatility units and derives their exit levels.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
)

// StopDistanceN is the stop-loss distance from entry, in units of N.
const StopDistanceN = 2.0

// Config holds configuration for sizing and levels
type Config struct {
	RiskPercent         float64 // Percent of equity risked per 1N move
	SizePrecisionDigits int     // Decimal digits the size is truncated to
	TakeProfitMultiple  float64 // Take-profit distance in N; 0 disables it
	MaxPositionSize     float64 // Hard cap on size; 0 means no cap
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.RiskPercent <= 0 || c.RiskPercent > 100 {
		errs = append(errs, fmt.Errorf("risk percent must be in (0, 100], got %v", c.RiskPercent))
	}
	if c.SizePrecisionDigits < 0 {
		errs = append(errs, fmt.Errorf("size precision digits must not be negative, got %d", c.SizePrecisionDigits))
	}
	if c.TakeProfitMultiple < 0 {
		errs = append(errs, fmt.Errorf("take profit multiple must not be negative, got %v", c.TakeProfitMultiple))
	}
	if c.MaxPositionSize < 0 {
		errs = append(errs, fmt.Errorf("max position size must not be negative, got %v", c.MaxPositionSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return nil
}

// Calculator applies a Config to sizing and level calculations
type Calculator struct {
	config Config
}

// NewCalculator creates a new calculator instance
func NewCalculator(config Config) *Calculator {
	return &Calculator{config: config}
}

// Config returns the calculator configuration.
func (c *Calculator) Config() Config {
	return c.config
}

// Size returns the position size for the given equity, N and price, capped at
// MaxPositionSize when one is set.
func (c *Calculator) Size(equity, n, price float64) float64 {
	size := PositionSize(equity, c.config.RiskPercent, n, price, c.config.SizePrecisionDigits)
	if c.config.MaxPositionSize > 0 && size > c.config.MaxPositionSize {
		size = truncate(c.config.MaxPositionSize, c.config.SizePrecisionDigits)
	}
	return size
}

// Levels returns the stop, optional take-profit and trailing exit for an entry.
func (c *Calculator) Levels(entry, n float64, dir domain.Direction, trailingExit *float64) (domain.RiskLevels, bool) {
	return Levels(entry, n, dir, c.config.TakeProfitMultiple, trailingExit)
}

// PositionSize risks riskPct percent of equity against a 1N adverse move:
// (riskPct/100 * equity) / (n * price), truncated toward zero at digits decimal
// places. The division chain runs in decimal so a size on an exact step keeps
// that step. Degenerate inputs give 0.
func PositionSize(equity, riskPct, n, price float64, digits int) float64 {
	if !finite(equity, riskPct, n, price) || n <= 0 || price <= 0 {
		return 0
	}
	riskAmount := decimal.NewFromFloat(riskPct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(equity))
	if !riskAmount.IsPositive() {
		return 0
	}
	unitRisk := decimal.NewFromFloat(n).Mul(decimal.NewFromFloat(price))
	if !unitRisk.IsPositive() {
		return 0
	}
	if digits < 0 {
		digits = 0
	}
	out, _ := riskAmount.Div(unitRisk).Truncate(int32(digits)).Float64()
	return out
}

func truncate(v float64, digits int) float64 {
	if digits < 0 {
		digits = 0
	}
	out, _ := decimal.NewFromFloat(v).Truncate(int32(digits)).Float64()
	return out
}

// StopLoss is entry minus 2N for longs and plus 2N for shorts. ok is false when
// no stop can be placed. A long stop may come out at or below zero when entry is
// within 2N of zero; it is returned as computed.
func StopLoss(entry, n float64, dir domain.Direction) (float64, bool) {
	if !finite(entry, n) || n <= 0 || entry <= 0 {
		return 0, false
	}
	switch dir {
	case domain.DirectionLong:
		return entry - StopDistanceN*n, true
	case domain.DirectionShort:
		return entry + StopDistanceN*n, true
	default:
		return 0, false
	}
}

// TakeProfit is entry plus multiple*N for longs and minus for shorts.
func TakeProfit(entry, n, multiple float64, dir domain.Direction) (float64, bool) {
	if !finite(entry, n, multiple) || multiple <= 0 || n <= 0 {
		return 0, false
	}
	switch dir {
	case domain.DirectionLong:
		return entry + multiple*n, true
	case domain.DirectionShort:
		return entry - multiple*n, true
	default:
		return 0, false
	}
}

// Levels combines the stop, the optional take-profit and a trailing exit level
// supplied by the caller. ok is false when no stop can be placed.
func Levels(entry, n float64, dir domain.Direction, takeProfitMultiple float64, trailingExit *float64) (domain.RiskLevels, bool) {
	stop, ok := StopLoss(entry, n, dir)
	if !ok {
		return domain.RiskLevels{}, false
	}
	levels := domain.RiskLevels{StopLoss: stop, TrailingExit: trailingExit}
	if tp, ok := TakeProfit(entry, n, takeProfitMultiple, dir); ok {
		levels.TakeProfit = &tp
	}
	return levels, true
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
