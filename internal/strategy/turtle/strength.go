package turtle

import "turtleAdvisor/internal/domain"

// EvaluateStrength scores how many channels the close has cleared in the
// breakout direction. Clearing both is strong, the confirmation channel alone
// is medium, the entry channel alone is weak.
func EvaluateStrength(close float64, entry, confirmation domain.DonchianBands, dir domain.Direction) domain.Strength {
	var beyondEntry, beyondConfirmation bool
	switch dir {
	case domain.DirectionLong:
		beyondEntry = close > entry.Upper
		beyondConfirmation = close > confirmation.Upper
	case domain.DirectionShort:
		beyondEntry = close < entry.Lower
		beyondConfirmation = close < confirmation.Lower
	default:
		return domain.StrengthNone
	}

	switch {
	case beyondEntry && beyondConfirmation:
		return domain.StrengthStrong
	case beyondConfirmation:
		return domain.StrengthMedium
	case beyondEntry:
		return domain.StrengthWeak
	default:
		return domain.StrengthNone
	}
}
