package indicators

import "turtleAdvisor/internal/domain"

// DefaultVolumeLookback is the number of bars the last bar's volume is compared against.
const DefaultVolumeLookback = 20

// AverageVolume returns the mean volume of the lookback bars that precede the
// newest bar. ok is false when any of those bars lacks volume or there are too few.
func AverageVolume(klines []*domain.Kline, lookback int) (float64, bool) {
	if lookback < 1 || len(klines) < lookback+1 {
		return 0, false
	}
	last := len(klines) - 1
	total := 0.0
	for i := last - lookback; i < last; i++ {
		if !klines[i].HasVolume {
			return 0, false
		}
		total += klines[i].Volume
	}
	return total / float64(lookback), true
}

// VolumeRatio returns the newest bar's volume divided by AverageVolume.
// ok is false when the newest bar has no volume, the average is unavailable,
// or the average is not positive.
func VolumeRatio(klines []*domain.Kline, lookback int) (float64, bool) {
	if len(klines) == 0 || !klines[len(klines)-1].HasVolume {
		return 0, false
	}
	avg, ok := AverageVolume(klines, lookback)
	if !ok || avg <= 0 {
		return 0, false
	}
	return klines[len(klines)-1].Volume / avg, true
}
