package turtle

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
	"turtleAdvisor/internal/strategy/indicators"
)

// Params configures an evaluation.
type Params struct {
	EntryPeriod           int     // Donchian window that triggers entries (typ. 20)
	ExitPeriod            int     // Donchian window for the trailing exit (typ. 10)
	ConfirmationPeriod    int     // Long lookback used to grade strength (typ. 55)
	TrueBreakoutThreshold float64 // Multiple of N a close must clear for a true breakout
	UseVolumeFilter       bool
	VolumeLookback        int // Bars averaged for the volume ratio; 0 means the default
}

// DefaultParams returns the classic Turtle System 1 settings.
func DefaultParams() Params {
	return Params{
		EntryPeriod:           20,
		ExitPeriod:            10,
		ConfirmationPeriod:    55,
		TrueBreakoutThreshold: 0.25,
		UseVolumeFilter:       false,
		VolumeLookback:        indicators.DefaultVolumeLookback,
	}
}

// Validate checks that the periods and threshold are usable.
func (p Params) Validate() error {
	var errs []error
	if p.EntryPeriod < 1 {
		errs = append(errs, fmt.Errorf("entry period must be positive, got %d", p.EntryPeriod))
	}
	if p.ExitPeriod < 1 {
		errs = append(errs, fmt.Errorf("exit period must be positive, got %d", p.ExitPeriod))
	}
	if p.ConfirmationPeriod < 1 {
		errs = append(errs, fmt.Errorf("confirmation period must be positive, got %d", p.ConfirmationPeriod))
	}
	if p.TrueBreakoutThreshold < 0 || math.IsNaN(p.TrueBreakoutThreshold) || math.IsInf(p.TrueBreakoutThreshold, 0) {
		errs = append(errs, fmt.Errorf("true breakout threshold must be a finite non-negative number, got %v", p.TrueBreakoutThreshold))
	}
	if p.VolumeLookback < 0 {
		errs = append(errs, fmt.Errorf("volume lookback must not be negative, got %d", p.VolumeLookback))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ports.ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

// RequiredBars is the smallest window Evaluate accepts: the longer channel
// period plus the bar being graded.
func (p Params) RequiredBars() int {
	return max(p.ConfirmationPeriod, p.EntryPeriod) + 1
}

func (p Params) volumeLookback() int {
	if p.VolumeLookback == 0 {
		return indicators.DefaultVolumeLookback
	}
	return p.VolumeLookback
}

// Evaluate grades the newest closed bar of klines against the channels formed
// by the bars before it. n is the current volatility unit. ok is false when the
// window is too short or the parameters are invalid.
//
// The bands end at the bar before the last one. A band that includes the graded
// bar contains its close, so the close could never clear it; hence RequiredBars
// asks for one bar beyond the channel periods.
func Evaluate(klines []*domain.Kline, n float64, p Params) (domain.Evaluation, bool) {
	if p.Validate() != nil || len(klines) < p.RequiredBars() {
		return domain.Evaluation{}, false
	}

	last := klines[len(klines)-1]
	prior := len(klines) - 2

	entry, ok := indicators.Donchian(klines, p.EntryPeriod, prior)
	if !ok {
		return domain.Evaluation{}, false
	}
	confirmation, ok := indicators.Donchian(klines, p.ConfirmationPeriod, prior)
	if !ok {
		return domain.Evaluation{}, false
	}

	eval := domain.Evaluation{
		Close:             last.Close,
		N:                 n,
		EntryBands:        entry,
		ConfirmationBands: confirmation,
	}

	vol := VolumeUnspecified
	if p.UseVolumeFilter {
		if ratio, ok := indicators.VolumeRatio(klines, p.volumeLookback()); ok {
			eval.VolumeRatio = &ratio
			vol = VolumeUnconfirmed
			if ratio >= 1 {
				vol = VolumeConfirmed
			}
		}
	}

	eval.Direction, eval.Quality = Classify(last, entry, n, p.TrueBreakoutThreshold, vol)
	eval.Strength = EvaluateStrength(last.Close, entry, confirmation, eval.Direction)
	eval.Tag = Tag(eval.Direction, eval.Strength, eval.Quality)
	eval.Suggestion = Suggest(eval.Direction, eval.Quality)
	return eval, true
}

// Tag renders an evaluation as "DIRECTION | strength | quality".
func Tag(dir domain.Direction, strength domain.Strength, quality domain.Quality) string {
	return fmt.Sprintf("%s | %s | %s", strings.ToUpper(string(dir)), strength, quality)
}

// Suggest maps a direction and quality to an action.
func Suggest(dir domain.Direction, quality domain.Quality) domain.Suggestion {
	if dir == domain.DirectionNone || quality == domain.QualityNone {
		return domain.SuggestionNoEntry
	}
	if quality == domain.QualityTrue {
		return domain.SuggestionFull
	}
	return domain.SuggestionScaleIn
}
