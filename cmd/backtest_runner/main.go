package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"turtleAdvisor/internal/adapters/logger"
	"turtleAdvisor/internal/adapters/sqlite"
	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/strategy"
	"turtleAdvisor/internal/strategy/analytics"
	"turtleAdvisor/internal/strategy/backtesting"
	"turtleAdvisor/internal/strategy/optimization"
	"turtleAdvisor/internal/utils"
)

var (
	dataFile     = flag.String("data", "", "kline CSV written by fetch_klines (required)")
	symbol       = flag.String("symbol", "", "symbol recorded on trades; defaults to the CSV's")
	initialFunds = flag.Float64("funds", 10000, "starting equity")
	leverage     = flag.Int("leverage", 1, "leverage applied to PnL")
	scaleIn      = flag.Float64("scale-in", backtesting.DefaultScaleInFraction, "fraction of the advised size used for sub breakouts")

	entryPeriod   = flag.Int("entry", 20, "entry channel period")
	exitPeriod    = flag.Int("exit", 10, "exit channel period")
	confirmPeriod = flag.Int("confirm", 55, "confirmation channel period")
	atrPeriod     = flag.Int("atr", 20, "ATR period for N")
	threshold     = flag.Float64("threshold", 0.25, "true breakout threshold in N")
	useVolume     = flag.Bool("volume", false, "require above-average volume for true breakouts")
	riskPercent   = flag.Float64("risk", 1, "percent of equity risked per N")
	takeProfit    = flag.Float64("tp", 4, "take-profit distance in N; 0 disables")

	optimize = flag.Bool("optimize", false, "grid-search entry/exit/ATR/threshold instead of a single run")
	workers  = flag.Int("workers", 0, "concurrent backtests when optimizing; 0 means one per CPU")
	top      = flag.Int("top", 10, "optimization results to print")

	outFile  = flag.String("out", "", "trades CSV path; defaults to data/backtest_trades_<input>.csv")
	dbPath   = flag.String("db", "", "also store trades in this SQLite database")
	logLevel = flag.String("log-level", "WARN", "log level")
)

func main() {
	flag.Parse()
	if *dataFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	appLogger := logger.NewStdLogger(logger.ParseLevel(*logLevel))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	klines, err := utils.ReadKlinesFromCSV(*dataFile)
	if err != nil {
		log.Fatalf("Error loading klines: %v", err)
	}
	if len(klines) == 0 {
		log.Fatalf("No klines in %s", *dataFile)
	}
	sym := *symbol
	if sym == "" {
		sym = klines[0].Symbol
	}
	appLogger.Info(ctx, "Loaded klines", map[string]interface{}{"count": len(klines), "symbol": sym})

	base := strategy.DefaultConfig()
	base.Params.EntryPeriod = *entryPeriod
	base.Params.ExitPeriod = *exitPeriod
	base.Params.ConfirmationPeriod = *confirmPeriod
	base.Params.TrueBreakoutThreshold = *threshold
	base.Params.UseVolumeFilter = *useVolume
	base.ATRPeriod = *atrPeriod
	base.Risk.RiskPercent = *riskPercent
	base.Risk.TakeProfitMultiple = *takeProfit

	btConfig := backtesting.BacktestConfig{
		InitialFunds:    *initialFunds,
		Symbol:          sym,
		Leverage:        *leverage,
		ScaleInFraction: *scaleIn,
	}

	if *optimize {
		runOptimization(ctx, appLogger, base, btConfig, klines)
		return
	}

	strat, err := strategy.New(base, appLogger)
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}

	result, err := backtesting.Backtest(ctx, strat, klines, btConfig)
	if err != nil {
		log.Fatalf("Backtest error: %v", err)
	}
	metrics := analytics.AnalyzePerformance(result.Trades, *initialFunds)
	printSummary(result, metrics)

	tradesFile := *outFile
	if tradesFile == "" {
		name := strings.TrimSuffix(filepath.Base(*dataFile), filepath.Ext(*dataFile))
		tradesFile = filepath.Join("data", "backtest_trades_"+name+".csv")
	}
	if err := utils.WriteTradesToCSV(result.Trades, tradesFile); err != nil {
		log.Fatalf("Error writing trades CSV: %v", err)
	}
	fmt.Printf("\nTrades saved to %s\n", tradesFile)

	if *dbPath != "" {
		if err := storeTrades(ctx, appLogger, *dbPath, result.Trades); err != nil {
			log.Fatalf("Error storing trades: %v", err)
		}
		fmt.Printf("Trades stored in %s\n", *dbPath)
	}
}

func runOptimization(ctx context.Context, appLogger *logger.StdLogger, base strategy.Config, btConfig backtesting.BacktestConfig, klines []*domain.Kline) {
	optimizer := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: optimization.DefaultRanges(),
		Backtest:        btConfig,
		Workers:         *workers,
	}, appLogger)

	results, err := optimizer.Optimize(ctx, optimization.TurtleFactory(base, logger.NewNop()), klines)
	if err != nil {
		log.Fatalf("Optimization error: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Rank\tEntry\tExit\tATR\tThreshold\tTrades\tWinRate%\tPnL\tPF\tMaxDD%\tScore\t")
	for i, r := range results {
		if i >= *top {
			break
		}
		p := r.Parameters
		fmt.Fprintf(w, "%d\t%.0f\t%.0f\t%.0f\t%.2f\t%d\t%.1f\t%.2f\t%.2f\t%.1f\t%.3f\t\n",
			i+1,
			p[optimization.ParamEntryPeriod], p[optimization.ParamExitPeriod], p[optimization.ParamATRPeriod], p[optimization.ParamThreshold],
			r.Metrics.TotalTrades, r.Metrics.WinRate*100, r.Metrics.TotalProfit, r.Metrics.ProfitFactor, r.Metrics.MaxDrawdown*100, r.Score)
	}
	w.Flush()
}

func printSummary(result *backtesting.BacktestResult, metrics *analytics.PerformanceMetrics) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Trades\t%d\n", result.TotalTrades)
	fmt.Fprintf(w, "Win rate\t%.1f%%\n", result.WinRate*100)
	fmt.Fprintf(w, "Total PnL\t%.2f\n", result.TotalProfit)
	fmt.Fprintf(w, "Final balance\t%.2f\n", result.FinalBalance)
	fmt.Fprintf(w, "Return\t%.2f%%\n", result.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", result.ProfitFactor)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", result.MaxDrawdown*100)
	fmt.Fprintf(w, "Sharpe (per trade)\t%.3f\n", result.SharpeRatio)
	fmt.Fprintf(w, "Expectancy\t%.2f\n", metrics.Expectancy)
	fmt.Fprintf(w, "Max consecutive losses\t%d\n", metrics.MaxConsecutiveLosses)
	w.Flush()

	fmt.Println("\nBy breakout quality:")
	for _, q := range []domain.Quality{domain.QualityTrue, domain.QualitySub} {
		if b, ok := metrics.ByQuality[q]; ok {
			fmt.Printf("  %-5s %4d trades  win %5.1f%%  pnl %10.2f\n", q, b.Trades, b.WinRate*100, b.TotalProfit)
		}
	}
	fmt.Println("By direction:")
	for _, d := range []domain.Direction{domain.DirectionLong, domain.DirectionShort} {
		if b, ok := metrics.ByDirection[d]; ok {
			fmt.Printf("  %-5s %4d trades  win %5.1f%%  pnl %10.2f\n", d, b.Trades, b.WinRate*100, b.TotalProfit)
		}
	}
}

func storeTrades(ctx context.Context, appLogger *logger.StdLogger, path string, trades []*domain.Trade) error {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: path, Logger: appLogger})
	if err != nil {
		return err
	}
	defer repo.Close()
	for _, t := range trades {
		if _, err := repo.CreateTrade(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
