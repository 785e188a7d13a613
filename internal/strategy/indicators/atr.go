package indicators

import (
	"context"
	"fmt"
	"math"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
)

// TrueRanges returns the true range of every bar. The first bar has no previous
// close, so its range is simply high-low.
func TrueRanges(klines []*domain.Kline) []float64 {
	trueRanges := make([]float64, len(klines))
	for i, k := range klines {
		if i == 0 {
			trueRanges[i] = k.High - k.Low
			continue
		}
		trueRanges[i] = trueRange(k.High, k.Low, klines[i-1].Close)
	}
	return trueRanges
}

func trueRange(high, low, prevClose float64) float64 {
	// The greatest of:
	// 1. Current High - Current Low
	// 2. |Current High - Previous Close|
	// 3. |Current Low - Previous Close|
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATRSeries is a Wilder-smoothed ATR aligned to bar indices.
// Values[0] belongs to bar Offset; earlier bars have no value.
type ATRSeries struct {
	Period int
	Offset int
	Values []float64
}

// Len returns the number of defined values.
func (s ATRSeries) Len() int { return len(s.Values) }

// At returns the ATR at bar index i.
func (s ATRSeries) At(i int) (float64, bool) {
	j := i - s.Offset
	if j < 0 || j >= len(s.Values) {
		return 0, false
	}
	return s.Values[j], true
}

// Last returns the most recent ATR, the current volatility unit N.
func (s ATRSeries) Last() (float64, bool) {
	if len(s.Values) == 0 {
		return 0, false
	}
	return s.Values[len(s.Values)-1], true
}

// WilderATR smooths true ranges with Wilder's recurrence. The seed at index n-1 is
// the mean of the first n true ranges; afterwards ATR[i] = (ATR[i-1]*(n-1) + TR[i]) / n.
// The series is empty when n < 1 or there are fewer than n true ranges.
func WilderATR(trueRanges []float64, n int) ATRSeries {
	series := ATRSeries{Period: n, Offset: n - 1}
	if n < 1 || len(trueRanges) < n {
		return series
	}

	series.Values = make([]float64, 0, len(trueRanges)-n+1)
	atr := 0.0
	for i := 0; i < n; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(n)
	series.Values = append(series.Values, atr)

	for i := n; i < len(trueRanges); i++ {
		atr = (atr*float64(n-1) + trueRanges[i]) / float64(n)
		series.Values = append(series.Values, atr)
	}
	return series
}

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR implements the Average True Range indicator
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.Config.Period)
}

// Calculate computes the latest Average True Range value for the given klines
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := a.Config.Period
	if period < 1 {
		return 0, fmt.Errorf("%w: ATR period must be positive, got %d", ports.ErrInvalidRequest, period)
	}
	n, ok := WilderATR(TrueRanges(klines), period).Last()
	if !ok {
		return 0, fmt.Errorf("%w: ATR needs %d, got %d", ports.ErrInsufficientData, period, len(klines))
	}
	return n, nil
}
