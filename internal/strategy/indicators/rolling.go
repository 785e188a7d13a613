package indicators

import "turtleAdvisor/internal/domain"

// The rolling trackers below keep a channel and an ATR up to date as bars arrive,
// in O(1) amortised time per bar. They produce exactly what Donchian and WilderATR
// produce for the same bars. Neither is safe for concurrent use.

type indexedValue struct {
	index int
	value float64
}

// RollingDonchian tracks the Donchian channel of the last period bars using two
// monotonic deques: highs kept decreasing, lows kept increasing.
type RollingDonchian struct {
	period int
	count  int
	highs  []indexedValue
	lows   []indexedValue
}

// NewRollingDonchian creates a tracker for a window of period bars.
func NewRollingDonchian(period int) *RollingDonchian {
	return &RollingDonchian{period: period}
}

// Period returns the window length.
func (r *RollingDonchian) Period() int { return r.period }

// Push adds the next bar's high and low.
func (r *RollingDonchian) Push(high, low float64) {
	idx := r.count
	r.count++

	for len(r.highs) > 0 && r.highs[len(r.highs)-1].value <= high {
		r.highs = r.highs[:len(r.highs)-1]
	}
	r.highs = append(r.highs, indexedValue{index: idx, value: high})

	for len(r.lows) > 0 && r.lows[len(r.lows)-1].value >= low {
		r.lows = r.lows[:len(r.lows)-1]
	}
	r.lows = append(r.lows, indexedValue{index: idx, value: low})

	oldest := idx - r.period + 1
	for len(r.highs) > 0 && r.highs[0].index < oldest {
		r.highs = r.highs[1:]
	}
	for len(r.lows) > 0 && r.lows[0].index < oldest {
		r.lows = r.lows[1:]
	}
}

// PushKline adds a bar.
func (r *RollingDonchian) PushKline(k *domain.Kline) {
	r.Push(k.High, k.Low)
}

// Bands returns the channel of the last period bars, once that many have been pushed.
func (r *RollingDonchian) Bands() (domain.DonchianBands, bool) {
	if r.period < 1 || r.count < r.period {
		return domain.DonchianBands{}, false
	}
	return bands(r.highs[0].value, r.lows[0].value), true
}

// RollingATR applies Wilder's recurrence one bar at a time.
type RollingATR struct {
	period    int
	count     int
	prevClose float64
	seedSum   float64
	atr       float64
}

// NewRollingATR creates a tracker with the given smoothing period.
func NewRollingATR(period int) *RollingATR {
	return &RollingATR{period: period}
}

// Push adds the next bar and returns the ATR once period bars have been seen.
func (r *RollingATR) Push(k *domain.Kline) (float64, bool) {
	tr := k.High - k.Low
	if r.count > 0 {
		tr = trueRange(k.High, k.Low, r.prevClose)
	}
	r.prevClose = k.Close
	r.count++

	if r.period < 1 {
		return 0, false
	}
	switch {
	case r.count < r.period:
		r.seedSum += tr
		return 0, false
	case r.count == r.period:
		r.seedSum += tr
		r.atr = r.seedSum / float64(r.period)
	default:
		r.atr = (r.atr*float64(r.period-1) + tr) / float64(r.period)
	}
	return r.atr, true
}

// Value returns the current ATR.
func (r *RollingATR) Value() (float64, bool) {
	if r.period < 1 || r.count < r.period {
		return 0, false
	}
	return r.atr, true
}
