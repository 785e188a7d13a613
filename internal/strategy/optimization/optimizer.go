package optimization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
	"turtleAdvisor/internal/strategy"
	"turtleAdvisor/internal/strategy/analytics"
	"turtleAdvisor/internal/strategy/backtesting"
)

// Parameter names understood by TurtleFactory.
const (
	ParamEntryPeriod        = "entry_period"
	ParamExitPeriod         = "exit_period"
	ParamConfirmationPeriod = "confirmation_period"
	ParamATRPeriod          = "atr_period"
	ParamThreshold          = "threshold"
	ParamRiskPercent        = "risk_percent"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters map[string]float64
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// StrategyFactory builds a strategy for one parameter combination.
type StrategyFactory func(params map[string]float64) (ports.Strategy, error)

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Backtest        backtesting.BacktestConfig
	ScoreFunction   func(*analytics.PerformanceMetrics) float64 // nil means DefaultScoreFunction
	Workers         int                                         // Concurrent backtests; 0 means runtime.NumCPU()
}

// Optimizer implements strategy parameter optimization
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, logger ports.Logger) *Optimizer {
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	return &Optimizer{config: config, logger: logger}
}

// Optimize backtests every parameter combination and returns the results
// sorted by score, best first. Combinations the factory rejects or that fail
// to backtest are logged and skipped.
func (o *Optimizer) Optimize(ctx context.Context, factory StrategyFactory, klines []*domain.Kline) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	results := make([]OptimizationResult, 0, len(combinations))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Workers)

	for _, params := range combinations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			strategyInstance, err := factory(params)
			if err != nil {
				o.logger.Debug(gctx, "Skipping parameter combination", map[string]interface{}{"params": params, "reason": err.Error()})
				return nil
			}

			result, err := backtesting.Backtest(gctx, strategyInstance, klines, o.config.Backtest)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn(gctx, "Backtest failed for parameter combination", map[string]interface{}{"params": params, "error": err.Error()})
				return nil
			}

			metrics := analytics.AnalyzePerformance(result.Trades, o.config.Backtest.InitialFunds)
			mu.Lock()
			results = append(results, OptimizationResult{
				Parameters: params,
				Metrics:    metrics,
				Score:      o.config.ScoreFunction(metrics),
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: optimization interrupted: %w", ports.ErrContextCanceled, err)
	}

	sortResultsByScore(results)
	o.logger.Info(ctx, "Optimization finished", map[string]interface{}{
		"combinations": len(combinations),
		"evaluated":    len(results),
	})
	return results, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		if param.Step <= 0 {
			currentCombination[param.Name] = param.Min
			generate(paramIndex + 1)
			return
		}
		// Count steps up front so float accumulation cannot add or drop a value.
		steps := int(math.Floor((param.Max-param.Min)/param.Step + 1e-9))
		for i := 0; i <= steps; i++ {
			value := param.Min + float64(i)*param.Step
			if param.IsInt {
				value = math.Round(value)
			}
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// TurtleFactory returns a factory that overlays parameter values on base.
// Unknown parameter names are rejected.
func TurtleFactory(base strategy.Config, logger ports.Logger) StrategyFactory {
	return func(params map[string]float64) (ports.Strategy, error) {
		cfg := base
		for name, value := range params {
			switch name {
			case ParamEntryPeriod:
				cfg.Params.EntryPeriod = int(value)
			case ParamExitPeriod:
				cfg.Params.ExitPeriod = int(value)
			case ParamConfirmationPeriod:
				cfg.Params.ConfirmationPeriod = int(value)
			case ParamATRPeriod:
				cfg.ATRPeriod = int(value)
			case ParamThreshold:
				cfg.Params.TrueBreakoutThreshold = value
			case ParamRiskPercent:
				cfg.Risk.RiskPercent = value
			default:
				return nil, fmt.Errorf("%w: unknown parameter %q", ports.ErrInvalidRequest, name)
			}
		}
		if cfg.Params.ExitPeriod >= cfg.Params.EntryPeriod {
			return nil, fmt.Errorf("%w: exit period %d must be shorter than entry period %d",
				ports.ErrInvalidRequest, cfg.Params.ExitPeriod, cfg.Params.EntryPeriod)
		}
		return strategy.New(cfg, logger)
	}
}

// DefaultRanges is a modest grid around the System 1 settings.
func DefaultRanges() []ParameterRange {
	return []ParameterRange{
		{Name: ParamEntryPeriod, Min: 10, Max: 30, Step: 10, IsInt: true},
		{Name: ParamExitPeriod, Min: 5, Max: 15, Step: 5, IsInt: true},
		{Name: ParamATRPeriod, Min: 14, Max: 20, Step: 6, IsInt: true},
		{Name: ParamThreshold, Min: 0, Max: 0.5, Step: 0.25},
	}
}

// sortResultsByScore sorts optimization results by score in descending order
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// DefaultScoreFunction provides a default scoring function for optimization
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics.TotalTrades == 0 {
		return math.Inf(-1)
	}
	score := 0.0

	score += metrics.WinRate * 0.3
	score += math.Min(metrics.ProfitFactor, 10) * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnOnInvestment * 0.2
	score += math.Min(metrics.RiskRewardRatio, 10) * 0.1

	return score
}
