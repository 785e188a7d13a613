package indicators

import (
	"math/rand"
	"time"

	"turtleAdvisor/internal/domain"
)

func barsFromHLC(highs, lows, closes []float64) []*domain.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]*domain.Kline, len(highs))
	for i := range highs {
		klines[i] = &domain.Kline{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1)*time.Hour - time.Millisecond),
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			IsFinal:   true,
		}
	}
	return klines
}

// randomWalk builds a reproducible series of bars around 100.
func randomWalk(seed int64, count int) []*domain.Kline {
	rng := rand.New(rand.NewSource(seed))
	highs := make([]float64, count)
	lows := make([]float64, count)
	closes := make([]float64, count)
	price := 100.0
	for i := 0; i < count; i++ {
		open := price
		price += rng.NormFloat64() * 2
		highs[i] = max(open, price) + rng.Float64()*1.5
		lows[i] = min(open, price) - rng.Float64()*1.5
		closes[i] = price
	}
	klines := barsFromHLC(highs, lows, closes)
	for _, k := range klines {
		k.Volume = 1000 + rng.Float64()*500
		k.HasVolume = true
	}
	return klines
}

func highsLowsCloses(klines []*domain.Kline) (highs, lows, closes []float64) {
	for _, k := range klines {
		highs = append(highs, k.High)
		lows = append(lows, k.Low)
		closes = append(closes, k.Close)
	}
	return highs, lows, closes
}
