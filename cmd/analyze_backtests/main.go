package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/strategy/analytics"
	"turtleAdvisor/internal/utils"
)

var (
	dir          = flag.String("dir", "data", "directory holding trade CSVs")
	prefix       = flag.String("prefix", "backtest_trades", "trade CSV file name prefix")
	initialFunds = flag.Float64("funds", 10000, "starting equity the trades were run with")
)

func main() {
	flag.Parse()

	files, err := findBacktestFiles(*dir, *prefix)
	if err != nil {
		log.Fatalf("Error finding backtest files: %v", err)
	}
	if len(files) == 0 {
		log.Println("No backtest files found. Run the backtest runner first.")
		return
	}

	results := make(map[string]*analytics.PerformanceMetrics, len(files))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "File\tTrades\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tPF\tMaxDD%\tSharpe\t")
	for _, file := range files {
		trades, err := utils.ReadTradesFromCSV(file)
		if err != nil {
			log.Printf("Error reading trades from %s: %v", file, err)
			continue
		}
		m := analytics.AnalyzePerformance(trades, *initialFunds)
		results[file] = m

		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.3f\t\n",
			filepath.Base(file),
			m.TotalTrades,
			m.WinRate*100,
			m.AverageWin,
			m.AverageLoss,
			m.TotalProfit,
			m.ProfitFactor,
			m.MaxDrawdown*100,
			m.SharpeRatio,
		)
	}
	w.Flush()

	fmt.Println("\n## Breakdown")
	for _, file := range files {
		if m, ok := results[file]; ok {
			printBreakdown(filepath.Base(file), m)
		}
	}
}

// printBreakdown shows how each breakout quality, side and exit reason contributed.
func printBreakdown(name string, m *analytics.PerformanceMetrics) {
	fmt.Printf("\nFile: %s\n", name)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Group\tTrades\tWinRate\tTotal PnL\tAvg PnL")
	for _, q := range []domain.Quality{domain.QualityTrue, domain.QualitySub} {
		if b, ok := m.ByQuality[q]; ok {
			fmt.Fprintf(w, "quality=%s\t%d\t%.1f%%\t%.2f\t%.2f\n", q, b.Trades, b.WinRate*100, b.TotalProfit, b.AverageProfit)
		}
	}
	for _, d := range []domain.Direction{domain.DirectionLong, domain.DirectionShort} {
		if b, ok := m.ByDirection[d]; ok {
			fmt.Fprintf(w, "side=%s\t%d\t%.1f%%\t%.2f\t%.2f\n", d, b.Trades, b.WinRate*100, b.TotalProfit, b.AverageProfit)
		}
	}
	w.Flush()

	reasons := make([]domain.CloseReason, 0, len(m.ByReason))
	for reason := range m.ByReason {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	parts := make([]string, len(reasons))
	for i, reason := range reasons {
		parts[i] = fmt.Sprintf("%s=%d", reason, m.ByReason[reason])
	}
	fmt.Printf("Exits: %s\n", strings.Join(parts, " "))

	for _, mr := range m.GetMonthlyReturns() {
		fmt.Printf("  %s %10.2f\n", mr.Month.Format("2006-01"), mr.Return)
	}
}

// findBacktestFiles finds all backtest trade files in the specified directory
func findBacktestFiles(dir, prefix string) ([]string, error) {
	var files []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".csv") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
