package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"turtleAdvisor/internal/adapters/binanceclient"
	"turtleAdvisor/internal/adapters/logger"
	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/utils"
)

var (
	symbol   = flag.String("symbol", "BTCUSDT", "futures symbol")
	interval = flag.String("interval", "1h", "kline interval (1m, 5m, 15m, 1h, 4h, 1d)")
	days     = flag.Int("days", 90, "how many days back from now to fetch")
	outDir   = flag.String("out", "data", "output directory")
	testnet  = flag.Bool("testnet", false, "fetch from the futures testnet")
	logLevel = flag.String("log-level", "INFO", "log level")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	appLogger := logger.NewStdLogger(logger.ParseLevel(*logLevel))

	iv, ok := domain.ParseInterval(*interval)
	if !ok {
		log.Fatalf("Unsupported interval %q", *interval)
	}
	if *days <= 0 {
		log.Fatalf("-days must be positive, got %d", *days)
	}

	// Klines are public; keys are only passed along when present.
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     os.Getenv("BINANCE_API_KEY"),
		SecretKey:  os.Getenv("BINANCE_API_SECRET"),
		UseTestnet: *testnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol":   *symbol,
		"interval": string(iv),
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
	})
	klines, err := binanceClient.GetKlinesRange(ctx, *symbol, iv, start, end)
	if err != nil {
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s_to_%s.csv", *symbol, iv, start.Format("20060102"), end.Format("20060102")))
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
