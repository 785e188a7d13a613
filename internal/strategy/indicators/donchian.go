package indicators

import "turtleAdvisor/internal/domain"

// Donchian computes the channel over the n bars ending at index i (inclusive).
// ok is false when fewer than n bars are available in that window.
func Donchian(klines []*domain.Kline, n, i int) (domain.DonchianBands, bool) {
	if n < 1 || i < 0 || i >= len(klines) {
		return domain.DonchianBands{}, false
	}
	start := i - n + 1
	if start < 0 {
		return domain.DonchianBands{}, false
	}

	upper := klines[start].High
	lower := klines[start].Low
	for j := start + 1; j <= i; j++ {
		if klines[j].High > upper {
			upper = klines[j].High
		}
		if klines[j].Low < lower {
			lower = klines[j].Low
		}
	}
	return bands(upper, lower), true
}

// DonchianLast is Donchian ending at the newest bar.
func DonchianLast(klines []*domain.Kline, n int) (domain.DonchianBands, bool) {
	return Donchian(klines, n, len(klines)-1)
}

func bands(upper, lower float64) domain.DonchianBands {
	return domain.DonchianBands{Upper: upper, Lower: lower, Middle: (upper + lower) / 2}
}
