// Package turtle classifies Donchian channel breakouts the way the Turtle
// system trades them: direction from the entry channel, quality from how far
// the close clears the channel in units of N, and strength from agreement
// with the longer confirmation channel.
package turtle

import "turtleAdvisor/internal/domain"

// VolumeSignal is the outcome of the optional volume filter.
type VolumeSignal int

const (
	// VolumeUnspecified means the filter did not run; it never blocks a breakout.
	VolumeUnspecified VolumeSignal = iota
	VolumeConfirmed
	VolumeUnconfirmed
)

func (v VolumeSignal) String() string {
	switch v {
	case VolumeConfirmed:
		return "confirmed"
	case VolumeUnconfirmed:
		return "unconfirmed"
	default:
		return "unspecified"
	}
}

// DirectionOf returns long when the close is above the upper band, short when
// it is below the lower band, and none otherwise.
func DirectionOf(close float64, bands domain.DonchianBands) domain.Direction {
	switch {
	case close > bands.Upper:
		return domain.DirectionLong
	case close < bands.Lower:
		return domain.DirectionShort
	default:
		return domain.DirectionNone
	}
}

// ClassifyQuality grades the breach of bands by candle. A close beyond a band
// by at least threshold*n, with volume not explicitly unconfirmed, is a true
// breakout; a smaller close breach or a wick-only breach is sub.
//
// The upper band is checked before the lower one, so bars that wick through
// both sides resolve the same way every time.
func ClassifyQuality(candle *domain.Kline, bands domain.DonchianBands, n, threshold float64, vol VolumeSignal) domain.Quality {
	volumeOK := vol != VolumeUnconfirmed

	switch {
	case candle.Close > bands.Upper:
		if candle.Close >= bands.Upper+threshold*n && volumeOK {
			return domain.QualityTrue
		}
		return domain.QualitySub
	case candle.High > bands.Upper && candle.Close <= bands.Upper:
		return domain.QualitySub
	case candle.Close < bands.Lower:
		if candle.Close <= bands.Lower-threshold*n && volumeOK {
			return domain.QualityTrue
		}
		return domain.QualitySub
	case candle.Low < bands.Lower && candle.Close >= bands.Lower:
		return domain.QualitySub
	default:
		return domain.QualityNone
	}
}

// Classify returns both the direction and the quality of a breakout.
func Classify(candle *domain.Kline, bands domain.DonchianBands, n, threshold float64, vol VolumeSignal) (domain.Direction, domain.Quality) {
	return DirectionOf(candle.Close, bands), ClassifyQuality(candle, bands, n, threshold, vol)
}
