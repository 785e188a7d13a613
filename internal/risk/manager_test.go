package risk

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
)

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name     string
		equity   float64
		riskPct  float64
		n        float64
		price    float64
		digits   int
		expected float64
	}{
		{name: "one percent of ten thousand", equity: 10000, riskPct: 1, n: 5, price: 100, digits: 3, expected: 0.2},
		{name: "truncates instead of rounding", equity: 10000, riskPct: 1, n: 3, price: 100, digits: 3, expected: 0.333},
		{name: "truncates just below a step", equity: 10000, riskPct: 2, n: 3, price: 100, digits: 2, expected: 0.66},
		{name: "zero digits", equity: 100000, riskPct: 1, n: 0.3, price: 1000, digits: 0, expected: 3},
		{name: "negative digits treated as zero", equity: 100000, riskPct: 1, n: 0.3, price: 1000, digits: -2, expected: 3},
		{name: "size below one step", equity: 100, riskPct: 1, n: 500, price: 60000, digits: 3, expected: 0},
		{name: "zero N", equity: 10000, riskPct: 1, n: 0, price: 100, digits: 3, expected: 0},
		{name: "negative N", equity: 10000, riskPct: 1, n: -1, price: 100, digits: 3, expected: 0},
		{name: "zero price", equity: 10000, riskPct: 1, n: 5, price: 0, digits: 3, expected: 0},
		{name: "zero risk", equity: 10000, riskPct: 0, n: 5, price: 100, digits: 3, expected: 0},
		{name: "negative equity", equity: -10000, riskPct: 1, n: 5, price: 100, digits: 3, expected: 0},
		{name: "NaN N", equity: 10000, riskPct: 1, n: math.NaN(), price: 100, digits: 3, expected: 0},
		{name: "infinite equity", equity: math.Inf(1), riskPct: 1, n: 5, price: 100, digits: 3, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PositionSize(tt.equity, tt.riskPct, tt.n, tt.price, tt.digits))
		})
	}
}

func TestPositionSize_FloorAtPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		equity := 100 + rng.Float64()*1e6
		riskPct := 0.1 + rng.Float64()*4.9
		n := 0.01 + rng.Float64()*500
		price := 0.1 + rng.Float64()*70000
		digits := rng.Intn(8)

		size := decimal.NewFromFloat(PositionSize(equity, riskPct, n, price, digits))
		raw := decimal.NewFromFloat(riskPct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromFloat(equity)).
			Div(decimal.NewFromFloat(n).Mul(decimal.NewFromFloat(price)))

		require.True(t, size.LessThanOrEqual(raw), "size %v above raw %v", size, raw)
		require.True(t, size.Equal(size.Truncate(int32(digits))), "size %v has more than %d digits", size, digits)
		// Truncation never drops a whole step.
		require.True(t, raw.Sub(size).LessThan(decimal.New(1, int32(-digits))), "size %v dropped a step below %v", size, raw)
	}
}

func TestPositionSize_ExactStep(t *testing.T) {
	tests := []struct {
		name     string
		equity   float64
		riskPct  float64
		n        float64
		price    float64
		digits   int
		expected float64
	}{
		{name: "whole units", equity: 100, riskPct: 29, n: 1, price: 1, digits: 1, expected: 29},
		{name: "whole units zero digits", equity: 100, riskPct: 29, n: 1, price: 1, digits: 0, expected: 29},
		{name: "fractional step", equity: 1000, riskPct: 0.7, n: 0.1, price: 10, digits: 3, expected: 7},
		{name: "tenth of a unit", equity: 300, riskPct: 1.1, n: 3, price: 10, digits: 2, expected: 0.11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PositionSize(tt.equity, tt.riskPct, tt.n, tt.price, tt.digits))
		})
	}
}

func TestPositionSize_ZeroForDegenerateInputs(t *testing.T) {
	for _, riskPct := range []float64{0.5, 1, 2, 50, 100} {
		for _, equity := range []float64{1, 1000, 1e9} {
			assert.Zero(t, PositionSize(equity, riskPct, 0, 100, 3))
			assert.Zero(t, PositionSize(equity, riskPct, 5, 0, 3))
			assert.Zero(t, PositionSize(equity, riskPct, -5, 100, 3))
			assert.Zero(t, PositionSize(equity, riskPct, 5, -100, 3))
		}
	}
}

func TestStopLoss(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		n        float64
		dir      domain.Direction
		expected float64
		ok       bool
	}{
		{name: "long", entry: 100, n: 5, dir: domain.DirectionLong, expected: 90, ok: true},
		{name: "short", entry: 100, n: 5, dir: domain.DirectionShort, expected: 110, ok: true},
		{name: "long stop exactly zero", entry: 10, n: 5, dir: domain.DirectionLong, expected: 0, ok: true},
		{name: "long stop below zero", entry: 8, n: 5, dir: domain.DirectionLong, expected: -2, ok: true},
		{name: "no direction", entry: 100, n: 5, dir: domain.DirectionNone},
		{name: "zero N", entry: 100, n: 0, dir: domain.DirectionLong},
		{name: "zero entry", entry: 0, n: 5, dir: domain.DirectionLong},
		{name: "NaN N", entry: 100, n: math.NaN(), dir: domain.DirectionShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, ok := StopLoss(tt.entry, tt.n, tt.dir)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, stop)
		})
	}
}

func TestTakeProfit(t *testing.T) {
	tp, ok := TakeProfit(100, 5, 4, domain.DirectionLong)
	require.True(t, ok)
	assert.Equal(t, 120.0, tp)

	tp, ok = TakeProfit(100, 5, 4, domain.DirectionShort)
	require.True(t, ok)
	assert.Equal(t, 80.0, tp)

	_, ok = TakeProfit(100, 5, 0, domain.DirectionLong)
	assert.False(t, ok)
	_, ok = TakeProfit(100, 0, 4, domain.DirectionLong)
	assert.False(t, ok)
	_, ok = TakeProfit(100, 5, 4, domain.DirectionNone)
	assert.False(t, ok)
}

func TestLevels(t *testing.T) {
	trailing := 95.0

	levels, ok := Levels(100, 5, domain.DirectionLong, 4, &trailing)
	require.True(t, ok)
	assert.Equal(t, 90.0, levels.StopLoss)
	require.NotNil(t, levels.TakeProfit)
	assert.Equal(t, 120.0, *levels.TakeProfit)
	require.NotNil(t, levels.TrailingExit)
	assert.Equal(t, 95.0, *levels.TrailingExit)

	levels, ok = Levels(100, 5, domain.DirectionShort, 0, nil)
	require.True(t, ok)
	assert.Equal(t, 110.0, levels.StopLoss)
	assert.Nil(t, levels.TakeProfit)
	assert.Nil(t, levels.TrailingExit)

	_, ok = Levels(100, 0, domain.DirectionLong, 4, nil)
	assert.False(t, ok)
}

func TestLevels_LongStopAtZero(t *testing.T) {
	levels, ok := Levels(10, 5, domain.DirectionLong, 4, nil)
	require.True(t, ok)
	assert.Zero(t, levels.StopLoss)
	require.NotNil(t, levels.TakeProfit)
	assert.Equal(t, 30.0, *levels.TakeProfit)
}

func TestCalculator(t *testing.T) {
	calc := NewCalculator(Config{RiskPercent: 1, SizePrecisionDigits: 3, TakeProfitMultiple: 4})

	assert.Equal(t, 0.2, calc.Size(10000, 5, 100))

	levels, ok := calc.Levels(100, 5, domain.DirectionLong, nil)
	require.True(t, ok)
	require.NotNil(t, levels.TakeProfit)
	assert.Equal(t, 120.0, *levels.TakeProfit)

	capped := NewCalculator(Config{RiskPercent: 1, SizePrecisionDigits: 2, MaxPositionSize: 0.1234})
	assert.Equal(t, 0.12, capped.Size(10000, 5, 100))
	assert.Equal(t, 0.1234, capped.Config().MaxPositionSize)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{RiskPercent: 1, SizePrecisionDigits: 3}.Validate())

	err := Config{RiskPercent: 0, SizePrecisionDigits: -1, TakeProfitMultiple: -1}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
	assert.Contains(t, err.Error(), "risk percent")
	assert.Contains(t, err.Error(), "size precision")
	assert.Contains(t, err.Error(), "take profit")

	assert.Error(t, Config{RiskPercent: 150}.Validate())
}
