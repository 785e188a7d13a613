package domain

import "time"

// Kline represents a single closed candlestick in numeric form.
type Kline struct {
	OpenTime   time.Time // Start time of the interval
	CloseTime  time.Time // End time of the interval
	Symbol     string    // Trading symbol
	Interval   Interval  // Kline interval (e.g., "1m", "1h")
	Open       float64   // Opening price
	High       float64   // Highest price
	Low        float64   // Lowest price
	Close      float64   // Closing price
	Volume     float64   // Trading volume, meaningful only when HasVolume is set
	HasVolume  bool      // Whether the source carried a volume field
	TradeCount int64     // Number of trades in the interval
	IsFinal    bool      // Whether this kline is the final one for the interval
}

// RawKline is a kline as delivered by the market-data source, with decimal
// values still encoded as strings.
type RawKline struct {
	OpenTime   time.Time
	CloseTime  time.Time
	Open       string
	Close      string
	High       string
	Low        string
	Volume     string // empty when the source has no volume
	TradeCount int64
	Symbol     string
	Interval   Interval
	IsFinal    bool
}

// Interval is a candle width token understood by the market-data source.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// ParseInterval validates an interval token.
func ParseInterval(s string) (Interval, bool) {
	iv := Interval(s)
	_, ok := intervalDurations[iv]
	return iv, ok
}

// Duration returns the width of the interval, or 0 for an unsupported token.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Closes extracts the closing prices of a kline window.
func Closes(klines []*Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}
